package nodes

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
)

// handleSwitch activates exactly one branch. With a condition it evaluates
// the expression and fires "true" or "false"; otherwise it tests its
// input for emptiness and fires "isEmpty" or "unEmpty". The chosen port
// carries the input value through.
func handleSwitch(_ context.Context, call *engine.Call) (*engine.Result, error) {
	value := call.Input(inputValue)
	var port string
	if cond := strings.TrimSpace(call.String(inputCondition)); cond != "" {
		ok, err := evaluateCondition(cond, call)
		if err != nil {
			return nil, err
		}
		port = flowchat.PortFalse
		if ok {
			port = flowchat.PortTrue
		}
	} else {
		port = flowchat.PortUnEmpty
		if isEmpty(value) {
			port = flowchat.PortIsEmpty
		}
	}
	if value == nil {
		value = true
	}
	return &engine.Result{
		Outputs:  map[string]any{port: value},
		Response: &flowchat.NodeResponse{TextOutput: port},
	}, nil
}

// evaluateCondition runs an expr-lang expression against the variables
// and the node's inputs, inputs taking precedence.
func evaluateCondition(expression string, call *engine.Call) (bool, error) {
	env := maps.Clone(call.Variables)
	if env == nil {
		env = make(map[string]any)
	}
	maps.Copy(env, call.Inputs)
	delete(env, inputCondition)

	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", expression, err)
	}
	return isTruthy(result), nil
}
