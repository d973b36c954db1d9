// Package model provides LLM implementations and the model catalog used by
// chat and tool nodes.
package model

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"google.golang.org/genai"

	adkmodel "google.golang.org/adk/model"

	"github.com/soochol/flowchat/internal/xjson"
)

var _ adkmodel.LLM = (*OpenAILLM)(nil)

// OpenAIOption configures an OpenAILLM instance.
type OpenAIOption func(*openAIOptions)

type openAIOptions struct {
	baseURL string
	name    string
	timeout time.Duration
	client  *http.Client
}

// WithOpenAIBaseURL sets a custom base URL for the API endpoint.
// This is useful for OpenAI-compatible APIs like Ollama and LM Studio.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) { o.baseURL = url }
}

// WithOpenAIName sets a custom name for the LLM instance.
func WithOpenAIName(name string) OpenAIOption {
	return func(o *openAIOptions) { o.name = name }
}

// WithOpenAITimeout bounds each request.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(o *openAIOptions) { o.timeout = d }
}

// WithOpenAIHTTPClient replaces the HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *openAIOptions) { o.client = c }
}

// OpenAILLM implements the ADK model.LLM interface for the OpenAI Chat
// Completions API and compatible servers.
type OpenAILLM struct {
	name   string
	client openai.Client
}

// NewOpenAILLM creates a new OpenAI LLM adapter.
func NewOpenAILLM(apiKey string, opts ...OpenAIOption) *OpenAILLM {
	o := &openAIOptions{name: "openai"}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	if o.client != nil {
		clientOpts = append(clientOpts, openaiopt.WithHTTPClient(o.client))
	}
	if o.timeout > 0 {
		clientOpts = append(clientOpts, openaiopt.WithRequestTimeout(o.timeout))
	}
	return &OpenAILLM{
		name:   o.name,
		client: openai.NewClient(clientOpts...),
	}
}

// Name returns the configured name of this LLM (default "openai").
func (o *OpenAILLM) Name() string {
	return o.name
}

// GenerateContent sends a chat completion request. With stream set it
// yields one partial response per text delta followed by a final response
// carrying tool calls and usage; otherwise it yields exactly one response.
func (o *OpenAILLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		params, err := buildChatParams(req)
		if err != nil {
			yield(nil, fmt.Errorf("openai: failed to build request: %w", err))
			return
		}
		callLogger(ctx).Debug("llm call", "provider", o.name, "model", req.Model, "stream", stream)

		if !stream {
			resp, err := o.client.Chat.Completions.New(ctx, params)
			if err != nil {
				yield(nil, fmt.Errorf("openai: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				yield(nil, fmt.Errorf("openai: no choices in response"))
				return
			}
			llmResp, err := convertCompletion(resp.Choices[0].Message, resp.Choices[0].FinishReason, resp.Usage)
			if err != nil {
				yield(nil, fmt.Errorf("openai: failed to convert response: %w", err))
				return
			}
			yield(llmResp, nil)
			return
		}

		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
		s := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer s.Close()

		acc := openai.ChatCompletionAccumulator{}
		for s.Next() {
			chunk := s.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			partial := &adkmodel.LLMResponse{
				Content: genai.NewContentFromText(chunk.Choices[0].Delta.Content, genai.RoleModel),
				Partial: true,
			}
			if !yield(partial, nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			callLogger(ctx).Warn("llm call failed", "provider", o.name, "model", req.Model, "err", err)
			yield(nil, fmt.Errorf("openai: %w", err))
			return
		}
		if len(acc.Choices) == 0 {
			yield(&adkmodel.LLMResponse{TurnComplete: true, UsageMetadata: usageMetadata(acc.Usage)}, nil)
			return
		}
		final, err := convertCompletion(acc.Choices[0].Message, acc.Choices[0].FinishReason, acc.Usage)
		if err != nil {
			yield(nil, fmt.Errorf("openai: failed to convert response: %w", err))
			return
		}
		// Text already went out as partials; the final response carries
		// only tool calls and usage.
		final.Content.Parts = functionCallParts(final.Content.Parts)
		yield(final, nil)
	}
}

// buildChatParams converts an LLMRequest into chat completion params.
func buildChatParams(req *adkmodel.LLMRequest) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(req.Model),
	}

	if req.Config != nil && req.Config.SystemInstruction != nil {
		if text := Text(req.Config.SystemInstruction); text != "" {
			params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(text)},
				},
			})
		}
	}
	for _, content := range req.Contents {
		msgs, err := convertContent(content)
		if err != nil {
			return params, err
		}
		params.Messages = append(params.Messages, msgs...)
	}

	if req.Config == nil {
		return params, nil
	}
	for _, tool := range req.Config.Tools {
		for _, fd := range tool.FunctionDeclarations {
			fn := openai.FunctionDefinitionParam{Name: fd.Name}
			if fd.Description != "" {
				fn.Description = openai.String(fd.Description)
			}
			switch {
			case fd.ParametersJsonSchema != nil:
				if m, ok := fd.ParametersJsonSchema.(map[string]any); ok {
					fn.Parameters = shared.FunctionParameters(m)
				}
			case fd.Parameters != nil:
				fn.Parameters = shared.FunctionParameters(convertSchema(fd.Parameters))
			}
			params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
		}
	}
	if req.Config.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Config.Temperature))
	}
	if req.Config.TopP != nil {
		params.TopP = openai.Float(float64(*req.Config.TopP))
	}
	if req.Config.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.Config.MaxOutputTokens))
	}
	return params, nil
}

// convertContent converts a single genai.Content into one or more messages.
func convertContent(content *genai.Content) ([]openai.ChatCompletionMessageParamUnion, error) {
	var (
		toolCalls []openai.ChatCompletionMessageToolCallParam
		texts     []string
		responses []*genai.FunctionResponse
	)
	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := xjson.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal function call args: %w", err)
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: part.FunctionCall.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case part.FunctionResponse != nil:
			responses = append(responses, part.FunctionResponse)
		case part.Text != "":
			texts = append(texts, part.Text)
		}
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	switch {
	case len(toolCalls) > 0:
		assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
		if len(texts) > 0 {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(strings.Join(texts, "\n")),
			}
		}
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
	case len(responses) > 0:
		for _, fr := range responses {
			body, err := xjson.Marshal(fr.Response)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal function response: %w", err)
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content:    openai.ChatCompletionToolMessageParamContentUnion{OfString: openai.String(string(body))},
					ToolCallID: fr.ID,
				},
			})
		}
	case len(texts) > 0:
		text := strings.Join(texts, "\n")
		if content.Role == genai.RoleModel {
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)},
				},
			})
		} else {
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(text)},
				},
			})
		}
	}
	return msgs, nil
}

// convertSchema converts a genai.Schema to a JSON Schema map.
func convertSchema(s *genai.Schema) map[string]any {
	schema := map[string]any{}
	if s.Type != "" {
		schema["type"] = strings.ToLower(string(s.Type))
	}
	if s.Description != "" {
		schema["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		schema["enum"] = s.Enum
	}
	if s.Items != nil {
		schema["items"] = convertSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		props := map[string]any{}
		for name, prop := range s.Properties {
			props[name] = convertSchema(prop)
		}
		schema["properties"] = props
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

// convertCompletion converts a completed assistant message to an LLMResponse.
func convertCompletion(msg openai.ChatCompletionMessage, finish string, usage openai.CompletionUsage) (*adkmodel.LLMResponse, error) {
	content := &genai.Content{Role: genai.RoleModel}
	if msg.Content != "" {
		content.Parts = append(content.Parts, genai.NewPartFromText(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		// The accumulator may leave empty slots for unindexed deltas.
		if tc.ID == "" && tc.Function.Name == "" {
			continue
		}
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := xjson.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool call arguments: %w", err)
			}
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args},
		})
	}
	return &adkmodel.LLMResponse{
		Content:       content,
		TurnComplete:  true,
		FinishReason:  finishReason(finish),
		UsageMetadata: usageMetadata(usage),
	}, nil
}

func functionCallParts(parts []*genai.Part) []*genai.Part {
	var out []*genai.Part
	for _, p := range parts {
		if p.FunctionCall != nil {
			out = append(out, p)
		}
	}
	return out
}

func usageMetadata(u openai.CompletionUsage) *genai.GenerateContentResponseUsageMetadata {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     int32(u.PromptTokens),
		CandidatesTokenCount: int32(u.CompletionTokens),
		TotalTokenCount:      int32(u.PromptTokens + u.CompletionTokens),
	}
}

func finishReason(r string) genai.FinishReason {
	switch r {
	case "length":
		return genai.FinishReasonMaxTokens
	case "content_filter":
		return genai.FinishReasonSafety
	default:
		return genai.FinishReasonStop
	}
}

