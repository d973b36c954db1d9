package nodes

import (
	"context"
	"fmt"
	"strings"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/model"
	"github.com/soochol/flowchat/internal/tokens"
)

// generation is the collected result of one model call.
type generation struct {
	text     strings.Builder
	calls    []*genai.FunctionCall
	usage    *genai.GenerateContentResponseUsageMetadata
	finish   genai.FinishReason
	streamed bool
}

// content returns the model turn to append to the conversation.
func (g *generation) content() *genai.Content {
	c := &genai.Content{Role: genai.RoleModel}
	if g.text.Len() > 0 {
		c.Parts = append(c.Parts, genai.NewPartFromText(g.text.String()))
	}
	for _, fc := range g.calls {
		c.Parts = append(c.Parts, &genai.Part{FunctionCall: fc})
	}
	return c
}

// generate drains one GenerateContent call. Partial responses are text
// deltas and go to onDelta as they arrive; the final response carries
// tool calls and usage.
func generate(ctx context.Context, llm adkmodel.LLM, req *adkmodel.LLMRequest, stream bool, onDelta func(string)) (*generation, error) {
	g := &generation{}
	for resp, err := range llm.GenerateContent(ctx, req, stream) {
		if err != nil {
			return nil, err
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			g.usage = resp.UsageMetadata
		}
		if resp.FinishReason != "" {
			g.finish = resp.FinishReason
		}
		if resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				if !resp.Partial {
					g.calls = append(g.calls, part.FunctionCall)
				}
			case part.Text != "" && !part.Thought:
				if resp.Partial {
					g.streamed = true
					g.text.WriteString(part.Text)
					if onDelta != nil {
						onDelta(part.Text)
					}
				} else if !g.streamed {
					g.text.WriteString(part.Text)
				}
			}
		}
	}
	return g, nil
}

// llmContext routes provider log lines to the handler's logger.
func llmContext(ctx context.Context, deps Deps, node *flowchat.Node) context.Context {
	return model.WithLogger(ctx, deps.logger().With("node_id", node.ID))
}

// generateConfig maps the common model inputs of a node.
func generateConfig(call *engine.Call, system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if v, ok := call.Inputs[inputTemperature]; ok {
		if f, ok := toFloat(v); ok {
			t := float32(f)
			cfg.Temperature = &t
		}
	}
	if n := call.Int(inputMaxTokens, 0); n > 0 {
		cfg.MaxOutputTokens = int32(n)
	}
	return cfg
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// historyContents converts stored chat items into model turns. System
// items and blank messages are dropped.
func historyContents(history []flowchat.ChatItem) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, item := range history {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		switch item.Role {
		case flowchat.RoleHuman:
			out = append(out, genai.NewContentFromText(item.Text, genai.RoleUser))
		case flowchat.RoleAI:
			out = append(out, genai.NewContentFromText(item.Text, genai.RoleModel))
		}
	}
	return out
}

// tokenUsage prefers the counts the backend measured and falls back to
// estimating both sides with counter.
func tokenUsage(g *generation, counter tokens.Counter, prompt []string) (int, int) {
	if g.usage != nil && (g.usage.PromptTokenCount > 0 || g.usage.CandidatesTokenCount > 0) {
		return int(g.usage.PromptTokenCount), int(g.usage.CandidatesTokenCount)
	}
	in := 0
	for _, p := range prompt {
		in += counter.Count(p)
	}
	return in, counter.Count(g.text.String())
}

// promptTexts lists the text of a request for token estimation.
func promptTexts(req *adkmodel.LLMRequest) []string {
	var out []string
	if req.Config != nil {
		if s := model.Text(req.Config.SystemInstruction); s != "" {
			out = append(out, s)
		}
	}
	for _, c := range req.Contents {
		if s := model.Text(c); s != "" {
			out = append(out, s)
		}
		for _, p := range c.Parts {
			if p.FunctionCall != nil {
				out = append(out, engine.Stringify(p.FunctionCall.Args))
			}
			if p.FunctionResponse != nil {
				out = append(out, engine.Stringify(p.FunctionResponse.Response))
			}
		}
	}
	return out
}

// resolveModel looks up the model of a node.
func resolveModel(deps Deps, call *engine.Call) (*model.Entry, error) {
	if deps.Models == nil {
		return nil, fmt.Errorf("no model catalog configured")
	}
	return deps.Models.Get(call.String(inputModel))
}

// respond reports whether the node streams its text to the caller. It
// defaults to true.
func respond(call *engine.Call) bool {
	if _, ok := call.Inputs[inputRespond]; !ok {
		return true
	}
	return call.Bool(inputRespond)
}

// answerEmitter pushes text deltas of a node as answer events.
func answerEmitter(call *engine.Call) func(string) {
	return func(text string) {
		call.Emitter.Emit(flowchat.StreamEvent{
			Event:  flowchat.EventAnswer,
			NodeID: call.Node.ID,
			Data:   flowchat.AnswerDelta{Text: text},
		})
	}
}

// question returns the user question feeding the node.
func question(call *engine.Call) string {
	if q := call.String(flowchat.PortUserChatInput); q != "" {
		return q
	}
	return call.Run.Query
}

// historyInput reads the history port.
func historyInput(call *engine.Call) []flowchat.ChatItem {
	h, _ := convert[[]flowchat.ChatItem](call.Input(flowchat.PortHistory))
	return h
}

// appendTurn returns history followed by the question and answer.
func appendTurn(history []flowchat.ChatItem, q, a string) []flowchat.ChatItem {
	out := make([]flowchat.ChatItem, 0, len(history)+2)
	out = append(out, history...)
	return append(out,
		flowchat.ChatItem{Role: flowchat.RoleHuman, Text: q},
		flowchat.ChatItem{Role: flowchat.RoleAI, Text: a},
	)
}
