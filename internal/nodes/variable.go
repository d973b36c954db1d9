package nodes

import (
	"context"
	"fmt"

	"github.com/soochol/flowchat/internal/engine"
)

// handleVariableUpdate writes variables. The "updates" input is either a
// map of name to value or a list of {key, value} objects; every other
// input port writes the variable of the same name.
func handleVariableUpdate(_ context.Context, call *engine.Call) (*engine.Result, error) {
	writes := make(map[string]any)
	switch u := call.Input(inputUpdates).(type) {
	case nil:
	case map[string]any:
		for k, v := range u {
			writes[k] = v
		}
	case []any:
		for _, item := range u {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("variable update: expected {key, value}, got %T", item)
			}
			key, _ := m["key"].(string)
			if key == "" {
				return nil, fmt.Errorf("variable update: missing key")
			}
			writes[key] = m["value"]
		}
	default:
		return nil, fmt.Errorf("variable update: unsupported updates %T", u)
	}
	for k, v := range call.Inputs {
		if k != inputUpdates {
			writes[k] = v
		}
	}
	return &engine.Result{
		Outputs:        map[string]any{"updated": len(writes)},
		VariableWrites: writes,
	}, nil
}
