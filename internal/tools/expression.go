package tools

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
)

// ExpressionTool evaluates an arithmetic or logical expression.
type ExpressionTool struct{}

func (e *ExpressionTool) Name() string { return "evaluate_expression" }

func (e *ExpressionTool) Description() string {
	return "Evaluate an arithmetic or logical expression such as (3 + 4) * 2 or price * qty > 100."
}

func (e *ExpressionTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{"type": "string", "description": "Expression to evaluate"},
			"variables":  map[string]any{"type": "object", "description": "Names available to the expression"},
		},
		"required": []any{"expression"},
	}
}

func (e *ExpressionTool) Execute(_ context.Context, input any) (any, error) {
	a, err := args(input)
	if err != nil {
		return nil, err
	}
	src := stringArg(a, "expression")
	if src == "" {
		return nil, fmt.Errorf("expression is required")
	}
	env, _ := a["variables"].(map[string]any)
	if env == nil {
		env = map[string]any{}
	}
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", src, err)
	}
	return map[string]any{"result": out}, nil
}
