// Package nodes implements the built-in node handlers and the registry the
// scheduler resolves them from.
package nodes

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/flowchat/ports"
	"github.com/soochol/flowchat/internal/model"
	"github.com/soochol/flowchat/internal/tokens"
	"github.com/soochol/flowchat/internal/tools"
)

// Deps bundles the collaborators available to handlers. Fields may be
// nil; each handler checks for what it needs.
type Deps struct {
	Models   *model.Catalog
	Tools    *tools.Registry
	Datasets ports.DatasetSearcher
	Apps     ports.AppStore
	// Counter picks the token counter for a model name. Nil uses
	// tokens.ForModel.
	Counter      func(model string) tokens.Counter
	MaxHistories int
	Logger       *slog.Logger
}

func (d Deps) counter(name string) tokens.Counter {
	if d.Counter != nil {
		return d.Counter(name)
	}
	return tokens.ForModel(name)
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Registry maps node types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[flowchat.NodeType]engine.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[flowchat.NodeType]engine.Handler)}
}

// Register adds or replaces the handler of a node type.
func (r *Registry) Register(t flowchat.NodeType, h engine.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

func (r *Registry) Handler(t flowchat.NodeType) (engine.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types lists the registered node types.
func (r *Registry) Types() []flowchat.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]flowchat.NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultRegistry registers every built-in node type.
func DefaultRegistry(deps Deps) *Registry {
	r := NewRegistry()
	r.Register(flowchat.NodeTypeWorkflowStart, engine.HandlerFunc(handleStart))
	r.Register(flowchat.NodeTypePluginInput, engine.HandlerFunc(handlePluginInput))
	r.Register(flowchat.NodeTypePluginOutput, engine.HandlerFunc(handlePluginOutput))
	r.Register(flowchat.NodeTypeHistoryLoader, &HistoryHandler{MaxHistories: deps.MaxHistories})
	r.Register(flowchat.NodeTypeChat, &ChatHandler{deps: deps})
	r.Register(flowchat.NodeTypeDatasetSearch, &DatasetSearchHandler{deps: deps})
	r.Register(flowchat.NodeTypeSwitch, engine.HandlerFunc(handleSwitch))
	r.Register(flowchat.NodeTypeAnswer, engine.HandlerFunc(handleAnswer))
	r.Register(flowchat.NodeTypeTools, &ToolsHandler{deps: deps})
	r.Register(flowchat.NodeTypeToolCall, &ToolCallHandler{deps: deps})
	r.Register(flowchat.NodeTypePlugin, &PluginHandler{deps: deps})
	r.Register(flowchat.NodeTypeUserSelect, engine.HandlerFunc(handleUserSelect))
	r.Register(flowchat.NodeTypeFormInput, engine.HandlerFunc(handleFormInput))
	r.Register(flowchat.NodeTypeVariableUpdate, engine.HandlerFunc(handleVariableUpdate))
	return r
}
