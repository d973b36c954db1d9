package nodes

import (
	"context"
	"fmt"
	"maps"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
)

// PluginHandler runs another app as a sub-workflow. The node's inputs
// become the plugin's variables and the inputs of its pluginOutput node
// become this node's outputs.
type PluginHandler struct {
	deps Deps
}

func (h *PluginHandler) Handle(ctx context.Context, call *engine.Call) (*engine.Result, error) {
	if h.deps.Apps == nil {
		return nil, fmt.Errorf("no app store configured")
	}
	id := call.String(inputPluginID)
	if id == "" {
		return nil, fmt.Errorf("pluginId is required")
	}
	app, err := h.deps.Apps.GetApp(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load plugin %q: %w", id, err)
	}

	vars := maps.Clone(call.Variables)
	if vars == nil {
		vars = make(map[string]any)
	}
	for k, v := range call.Inputs {
		if k != inputPluginID {
			vars[k] = v
		}
	}
	outcome, err := call.Nested(ctx, app.Nodes, app.Edges, engine.NestedOptions{
		Emitter:   engine.Quiet(call.Emitter),
		Variables: vars,
		Query:     question(call),
	})
	if err != nil {
		return nil, fmt.Errorf("plugin %q: %w", id, err)
	}
	if outcome.Paused() {
		return nil, fmt.Errorf("plugin %q paused for input", id)
	}

	out := make(map[string]any)
	for _, n := range app.Nodes {
		if n.Type == flowchat.NodeTypePluginOutput {
			maps.Copy(out, outcome.Outputs[n.ID])
		}
	}
	if outcome.Answer != "" {
		out[flowchat.PortAnswerText] = outcome.Answer
	}
	return &engine.Result{
		Outputs:  out,
		Response: &flowchat.NodeResponse{TextOutput: engine.Stringify(out)},
	}, nil
}
