package tools

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Registry holds the tools available to workflows by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Default returns a registry with every built-in tool. client is shared by
// the network tools; nil uses a client with a 30s timeout.
func Default(client *http.Client) *Registry {
	r := NewRegistry()
	r.Register(&HTTPRequestTool{Client: client})
	r.Register(&WebpageTool{Client: client})
	r.Register(&FeedTool{Client: client})
	r.Register(&ExpressionTool{})
	return r
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Execute(ctx context.Context, name string, input any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %q", name)
	}
	return t.Execute(ctx, input)
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// ToolInfo is the API listing of a tool.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (r *Registry) AllTools() []ToolInfo {
	list := r.List()
	result := make([]ToolInfo, 0, len(list))
	for _, t := range list {
		result = append(result, ToolInfo{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return result
}
