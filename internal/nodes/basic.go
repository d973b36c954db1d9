package nodes

import (
	"context"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
)

// handleStart publishes the user question.
func handleStart(_ context.Context, call *engine.Call) (*engine.Result, error) {
	query := call.Run.Query
	if v, ok := call.Inputs[flowchat.PortUserChatInput].(string); ok && v != "" {
		query = v
	}
	return &engine.Result{Outputs: map[string]any{flowchat.PortUserChatInput: query}}, nil
}

// handlePluginInput exposes the arguments a plugin was called with. They
// arrive as the nested run's variables.
func handlePluginInput(_ context.Context, call *engine.Call) (*engine.Result, error) {
	out := map[string]any{flowchat.PortUserChatInput: call.Run.Query}
	for _, o := range call.Node.Outputs {
		if v, ok := call.Variables[o.Key]; ok {
			out[o.Key] = v
		}
	}
	for k, v := range call.Inputs {
		out[k] = v
	}
	return &engine.Result{Outputs: out}, nil
}

// handlePluginOutput collects the values a plugin returns to its caller.
func handlePluginOutput(_ context.Context, call *engine.Call) (*engine.Result, error) {
	out := make(map[string]any, len(call.Inputs))
	for k, v := range call.Inputs {
		out[k] = v
	}
	return &engine.Result{Outputs: out}, nil
}

// handleAnswer emits its configured text verbatim.
func handleAnswer(_ context.Context, call *engine.Call) (*engine.Result, error) {
	text := call.String(inputText)
	if text != "" {
		call.Emitter.Emit(flowchat.StreamEvent{
			Event:  flowchat.EventAnswer,
			NodeID: call.Node.ID,
			Data:   flowchat.AnswerDelta{Text: text},
		})
	}
	return &engine.Result{
		Outputs:  map[string]any{flowchat.PortAnswerText: text},
		Answer:   text,
		Response: &flowchat.NodeResponse{TextOutput: text},
	}, nil
}
