// Package tools holds the built-in tools that toolCall nodes and the
// function-calling loop of tools nodes can invoke.
package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/soochol/flowchat/internal/xjson"
)

type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input any) (any, error)
}

const defaultTimeout = 30 * time.Second

// args normalizes tool input: a JSON object string or a map.
func args(input any) (map[string]any, error) {
	switch v := input.(type) {
	case map[string]any:
		return v, nil
	case string:
		var m map[string]any
		if err := xjson.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		return m, nil
	case nil:
		return map[string]any{}, nil
	}
	return nil, fmt.Errorf("invalid input: expected object")
}

func stringArg(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intArg(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func clientOr(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultTimeout}
}
