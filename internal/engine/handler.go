package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/soochol/flowchat/internal/dag"
	"github.com/soochol/flowchat/internal/flowchat"
)

// Handler executes one node type.
type Handler interface {
	Handle(ctx context.Context, call *Call) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call *Call) (*Result, error)

func (f HandlerFunc) Handle(ctx context.Context, call *Call) (*Result, error) {
	return f(ctx, call)
}

// Registry resolves the handler for a node type.
type Registry interface {
	Handler(t flowchat.NodeType) (Handler, bool)
}

// Call is everything a handler sees for one invocation. Inputs and
// Variables are private copies.
type Call struct {
	Node      *flowchat.Node
	Inputs    map[string]any
	Variables map[string]any
	Run       *Run
	Emitter   flowchat.Emitter
	// Graph is the graph being executed, read-only.
	Graph *dag.Graph
	// Resume is set when the node continues a paused invocation.
	Resume *Resume

	sched *Scheduler
}

// Resume carries the state saved by a pause and the caller's reply.
type Resume struct {
	State  map[string]any
	Prompt map[string]any
	Reply  string
}

// Result is a handler's outcome. Outputs names exactly the ports the node
// produced; edges leaving any other port are skipped.
type Result struct {
	Outputs        map[string]any
	Usage          []flowchat.UsageEntry
	VariableWrites map[string]any
	// Answer is text contributed to the assistant message.
	Answer   string
	Pause    *Pause
	Response *flowchat.NodeResponse
}

// Pause suspends the run at the calling node.
type Pause struct {
	State  map[string]any
	Prompt map[string]any
}

// Input returns the resolved value of an input port.
func (c *Call) Input(key string) any {
	return c.Inputs[key]
}

// String returns an input port rendered as text.
func (c *Call) String(key string) string {
	return Stringify(c.Inputs[key])
}

// Int returns an input port as an int, or def when absent or malformed.
func (c *Call) Int(key string, def int) int {
	switch v := c.Inputs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns an input port as a bool.
func (c *Call) Bool(key string) bool {
	switch v := c.Inputs[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// NestedOptions configures a nested run started by a handler.
type NestedOptions struct {
	// Emitter receives the nested run's events. Nil keeps the parent's.
	Emitter flowchat.Emitter
	// Variables seeds the nested bag. Nil copies the parent's snapshot.
	Variables map[string]any
	Query     string
	Selected  []string
}

// Nested runs a sub-graph inside the current run. The nested run shares
// the node-count cap, the usage ledger and the response trace.
func (c *Call) Nested(ctx context.Context, nodes []flowchat.Node, edges []flowchat.Edge, opts NestedOptions) (*Outcome, error) {
	if c.sched == nil {
		return nil, fmt.Errorf("nested run: no scheduler bound to call")
	}
	rg, err := dag.Normalize(nodes, edges, dag.Options{SelectedToolIDs: opts.Selected})
	if err != nil {
		return nil, err
	}
	vars := opts.Variables
	if vars == nil {
		vars = c.Variables
	}
	bag, err := NewVariables(nil, vars)
	if err != nil {
		return nil, err
	}
	child := c.Run.Child(bag)
	if opts.Emitter != nil {
		child.Emitter = opts.Emitter
	}
	if opts.Query != "" {
		child.Query = opts.Query
	}
	return c.sched.Execute(ctx, child, rg)
}
