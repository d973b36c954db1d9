package engine

import (
	"fmt"
	"maps"
	"sync"

	"dario.cat/mergo"
)

// Variables is the run-scoped variable bag. Handlers read a snapshot and
// return writes; the dispatch loop applies them.
type Variables struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewVariables seeds the bag with persisted values overlaid by the
// request's values.
func NewVariables(persisted, request map[string]any) (*Variables, error) {
	values := make(map[string]any, len(persisted)+len(request))
	if persisted != nil {
		if err := mergo.Merge(&values, persisted, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("seed persisted variables: %w", err)
		}
	}
	if request != nil {
		if err := mergo.Merge(&values, request, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("seed request variables: %w", err)
		}
	}
	return &Variables{values: values}, nil
}

func (v *Variables) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[key]
	return val, ok
}

func (v *Variables) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[key] = value
}

// Apply writes all entries of writes.
func (v *Variables) Apply(writes map[string]any) {
	if len(writes) == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	maps.Copy(v.values, writes)
}

// Snapshot returns a copy safe to hand to a handler.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.values)
}
