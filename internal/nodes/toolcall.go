package nodes

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/xjson"
)

// ToolCallHandler invokes a registered tool. The argument object comes
// from the "args" input (an object or a templated JSON string); every
// other edge-fed input is merged into it.
type ToolCallHandler struct {
	deps Deps
}

func (h *ToolCallHandler) Handle(ctx context.Context, call *engine.Call) (*engine.Result, error) {
	if h.deps.Tools == nil {
		return nil, fmt.Errorf("no tool registry configured")
	}
	name := call.String(inputTool)
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	args, err := toolArgs(call)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	call.Emitter.Emit(flowchat.StreamEvent{
		Event:  flowchat.EventToolCall,
		NodeID: call.Node.ID,
		Data:   ToolCallPayload{ID: id, ToolName: name, Function: name, Params: engine.Stringify(args)},
	})
	result, err := h.deps.Tools.Execute(ctx, name, args)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	text := engine.Stringify(result)
	call.Emitter.Emit(flowchat.StreamEvent{
		Event:  flowchat.EventToolResponse,
		NodeID: call.Node.ID,
		Data:   ToolResponsePayload{ID: id, ToolName: name, Response: text},
	})

	out := map[string]any{portRawResponse: result}
	if m, ok := result.(map[string]any); ok {
		for k, v := range m {
			if k != portRawResponse {
				out[k] = v
			}
		}
	}
	return &engine.Result{
		Outputs:  out,
		Response: &flowchat.NodeResponse{TextOutput: text, ToolCalls: []string{name}},
	}, nil
}

func toolArgs(call *engine.Call) (map[string]any, error) {
	args := make(map[string]any)
	switch v := call.Input(inputArgs).(type) {
	case nil:
	case map[string]any:
		for k, x := range v {
			args[k] = x
		}
	case string:
		if v != "" {
			if err := xjson.Unmarshal([]byte(v), &args); err != nil {
				return nil, fmt.Errorf("invalid tool args: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("invalid tool args: %T", v)
	}
	for k, v := range call.Inputs {
		if k == inputTool || k == inputArgs {
			continue
		}
		if _, set := args[k]; !set {
			args[k] = v
		}
	}
	return args, nil
}
