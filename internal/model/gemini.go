package model

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"
)

var _ adkmodel.LLM = (*GeminiLLM)(nil)

// GeminiLLM uses the google.golang.org/genai Go SDK directly.
type GeminiLLM struct {
	apiKey  string
	name    string
	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGeminiLLM creates a Gemini adapter for the given provider name.
func NewGeminiLLM(providerName, apiKey string) *GeminiLLM {
	return &GeminiLLM{
		name:   providerName,
		apiKey: apiKey,
	}
}

func (g *GeminiLLM) Name() string { return g.name }

func (g *GeminiLLM) ensureClient(ctx context.Context) error {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.initErr
}

func (g *GeminiLLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		if err := g.ensureClient(ctx); err != nil {
			yield(nil, fmt.Errorf("gemini: client init failed: %w", err))
			return
		}

		cfg := req.Config
		if cfg == nil {
			cfg = &genai.GenerateContentConfig{}
		}

		callLogger(ctx).Debug("llm call", "provider", g.name, "model", req.Model, "stream", stream)

		if !stream {
			resp, err := g.client.Models.GenerateContent(ctx, req.Model, req.Contents, cfg)
			if err != nil {
				callLogger(ctx).Warn("llm call failed", "provider", g.name, "model", req.Model, "err", err)
				yield(nil, fmt.Errorf("gemini: %w", err))
				return
			}
			yield(convertGeminiResponse(resp, false), nil)
			return
		}

		// Stream chunks carry text deltas; usage arrives on the last one.
		var (
			usage *genai.GenerateContentResponseUsageMetadata
			calls []*genai.Part
		)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, req.Model, req.Contents, cfg) {
			if err != nil {
				callLogger(ctx).Warn("llm call failed", "provider", g.name, "model", req.Model, "err", err)
				yield(nil, fmt.Errorf("gemini: %w", err))
				return
			}
			if resp.UsageMetadata != nil {
				usage = resp.UsageMetadata
			}
			r := convertGeminiResponse(resp, true)
			if r.Content == nil {
				continue
			}
			calls = append(calls, functionCallParts(r.Content.Parts)...)
			if Text(r.Content) == "" {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
		yield(&adkmodel.LLMResponse{
			Content:       &genai.Content{Role: genai.RoleModel, Parts: calls},
			TurnComplete:  true,
			FinishReason:  genai.FinishReasonStop,
			UsageMetadata: usage,
		}, nil)
	}
}


func convertGeminiResponse(resp *genai.GenerateContentResponse, partial bool) *adkmodel.LLMResponse {
	if resp == nil || len(resp.Candidates) == 0 {
		return &adkmodel.LLMResponse{TurnComplete: !partial}
	}
	c := resp.Candidates[0]
	r := &adkmodel.LLMResponse{
		Content:      c.Content,
		Partial:      partial,
		TurnComplete: !partial,
		FinishReason: c.FinishReason,
	}
	if !partial && resp.UsageMetadata != nil {
		r.UsageMetadata = resp.UsageMetadata
	}
	return r
}
