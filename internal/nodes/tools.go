package nodes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
)

const maxToolTurns = 10

// ToolCallPayload is the data of toolCall events.
type ToolCallPayload struct {
	ID       string `json:"id"`
	ToolName string `json:"toolName"`
	Function string `json:"functionName"`
	Params   string `json:"params"`
}

// ToolResponsePayload is the data of toolResponse events.
type ToolResponsePayload struct {
	ID       string `json:"id"`
	ToolName string `json:"toolName"`
	Response string `json:"response"`
}

// ToolsHandler lets a model call the nodes wired from its selectedTools
// port. Every call runs the tool node and its descendants as a nested
// workflow whose result is fed back to the model.
type ToolsHandler struct {
	deps Deps
}

type toolTarget struct {
	node flowchat.Node
	name string
}

func (h *ToolsHandler) Handle(ctx context.Context, call *engine.Call) (*engine.Result, error) {
	entry, err := resolveModel(h.deps, call)
	if err != nil {
		return nil, err
	}
	counter := h.deps.counter(entry.ID)

	targets, decls := h.declarations(call)
	q := question(call)
	history := historyInput(call)

	contents := historyContents(history)
	contents = append(contents, genai.NewContentFromText(q, genai.RoleUser))
	cfg := generateConfig(call, call.String(inputSystemPrompt))
	if len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	speak := respond(call)
	var onDelta func(string)
	if speak && call.Run.Stream {
		onDelta = answerEmitter(call)
	}
	llmCtx := llmContext(ctx, h.deps, call.Node)

	var (
		in, out int
		called  []string
		answer  string
	)
	for turn := 0; ; turn++ {
		if turn == maxToolTurns {
			return nil, fmt.Errorf("exceeded %d model turns", maxToolTurns)
		}
		req := &adkmodel.LLMRequest{Model: entry.Name, Contents: contents, Config: cfg}
		gen, err := generate(llmCtx, entry.LLM, req, call.Run.Stream, onDelta)
		if err != nil {
			return nil, fmt.Errorf("tool model call with %s: %w", entry.ID, err)
		}
		tin, tout := tokenUsage(gen, counter, promptTexts(req))
		in, out = in+tin, out+tout

		if len(gen.calls) == 0 {
			answer = strings.TrimSpace(gen.text.String())
			if speak && !gen.streamed && answer != "" {
				answerEmitter(call)(answer)
			}
			break
		}

		contents = append(contents, gen.content())
		resp := &genai.Content{Role: genai.RoleUser}
		for _, fc := range gen.calls {
			output, err := h.runTool(ctx, call, targets, fc)
			if err != nil {
				return nil, err
			}
			called = append(called, fc.Name)
			resp.Parts = append(resp.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: output},
			})
		}
		contents = append(contents, resp)
	}

	res := &engine.Result{
		Outputs: map[string]any{
			flowchat.PortAnswerText: answer,
			flowchat.PortHistory:    appendTurn(history, q, answer),
		},
		Usage: []flowchat.UsageEntry{{
			Model:        entry.ID,
			InputTokens:  in,
			OutputTokens: out,
			TotalPoints:  entry.Points(in, out),
		}},
		Response: &flowchat.NodeResponse{Query: q, TextOutput: answer, ToolCalls: called},
	}
	if speak {
		res.Answer = answer
	}
	return res, nil
}

// declarations describes every tool node as a function. Inputs carrying a
// toolDescription become parameters.
func (h *ToolsHandler) declarations(call *engine.Call) (map[string]toolTarget, []*genai.FunctionDeclaration) {
	targets := make(map[string]toolTarget)
	var decls []*genai.FunctionDeclaration
	if call.Graph == nil {
		return targets, nil
	}
	for _, id := range call.Graph.Children(call.Node.ID, flowchat.PortSelectedTools) {
		if _, dup := targets[id]; dup {
			continue
		}
		i, ok := call.Graph.Index(id)
		if !ok {
			continue
		}
		node := *call.Graph.Node(i)
		params := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		for _, input := range node.Inputs {
			if input.ToolDescription == "" {
				continue
			}
			prop := &genai.Schema{
				Type:        schemaType(input.ValueType),
				Description: input.ToolDescription,
			}
			if prop.Type == genai.TypeArray {
				prop.Items = &genai.Schema{Type: genai.TypeString}
			}
			params.Properties[input.Key] = prop
			if input.Required {
				params.Required = append(params.Required, input.Key)
			}
		}
		desc := node.Intro
		if desc == "" {
			desc = displayName(&node)
		}
		targets[id] = toolTarget{node: node, name: displayName(&node)}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        id,
			Description: desc,
			Parameters:  params,
		})
	}
	return targets, decls
}

// runTool executes one function call as a nested workflow rooted at the
// tool node. Tool failures are reported to the model; exceeding the run
// cap or pausing aborts the handler.
func (h *ToolsHandler) runTool(ctx context.Context, call *engine.Call, targets map[string]toolTarget, fc *genai.FunctionCall) (map[string]any, error) {
	target, ok := targets[fc.Name]
	params := engine.Stringify(fc.Args)
	call.Emitter.Emit(flowchat.StreamEvent{
		Event:  flowchat.EventToolCall,
		NodeID: call.Node.ID,
		Data:   ToolCallPayload{ID: fc.ID, ToolName: target.name, Function: fc.Name, Params: params},
	})
	if !ok {
		output := map[string]any{"error": fmt.Sprintf("unknown tool %q", fc.Name)}
		h.emitToolResponse(call, fc, target.name, output)
		return output, nil
	}

	nodes, edges := call.Graph.Subgraph(fc.Name, call.Node.ID)
	for i := range nodes {
		if nodes[i].ID != fc.Name {
			continue
		}
		nodes[i].IsEntry = true
		nodes[i].Inputs = withArgs(nodes[i].Inputs, fc.Args)
	}
	outcome, err := call.Nested(ctx, nodes, edges, engine.NestedOptions{
		Emitter: engine.Quiet(call.Emitter),
		Query:   call.Run.Query,
	})
	var output map[string]any
	switch {
	case errors.Is(err, flowchat.ErrMaxRunTimesExceeded):
		return nil, err
	case err != nil:
		output = map[string]any{"error": err.Error()}
	case outcome.Paused():
		return nil, fmt.Errorf("tool %q paused for input", fc.Name)
	default:
		output = toolOutput(outcome, fc.Name)
	}
	h.emitToolResponse(call, fc, target.name, output)
	return output, nil
}

func (h *ToolsHandler) emitToolResponse(call *engine.Call, fc *genai.FunctionCall, name string, output map[string]any) {
	call.Emitter.Emit(flowchat.StreamEvent{
		Event:  flowchat.EventToolResponse,
		NodeID: call.Node.ID,
		Data:   ToolResponsePayload{ID: fc.ID, ToolName: name, Response: engine.Stringify(output)},
	})
}

// withArgs returns a copy of inputs with the call arguments set as
// literal values. Arguments without a matching port are appended.
func withArgs(inputs []flowchat.Input, args map[string]any) []flowchat.Input {
	out := slices.Clone(inputs)
	seen := make(map[string]bool, len(out))
	for i := range out {
		seen[out[i].Key] = true
		if v, ok := args[out[i].Key]; ok {
			out[i].Value = v
		}
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, flowchat.Input{Key: k, Value: args[k]})
	}
	return out
}

// toolOutput summarizes a finished tool run: its answer text when it
// produced one, otherwise the outputs of the tool node, or of every done
// node when the tool spans several.
func toolOutput(outcome *engine.Outcome, root string) map[string]any {
	if outcome.Answer != "" {
		return map[string]any{"result": outcome.Answer}
	}
	if len(outcome.Outputs) == 1 {
		if out, ok := outcome.Outputs[root]; ok {
			return out
		}
	}
	result := make(map[string]any, len(outcome.Outputs))
	for id, out := range outcome.Outputs {
		result[id] = out
	}
	return result
}

func schemaType(valueType string) genai.Type {
	switch valueType {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "object":
		return genai.TypeObject
	case "arrayString", "array":
		return genai.TypeArray
	}
	return genai.TypeString
}
