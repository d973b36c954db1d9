package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBody caps how much of a response body is handed back to the
// workflow.
const maxResponseBody = 64 * 1024

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true,
}

// HTTPRequestTool calls an external HTTP endpoint.
type HTTPRequestTool struct {
	Client *http.Client
}

func (h *HTTPRequestTool) Name() string { return "http_request" }

func (h *HTTPRequestTool) Description() string {
	return "Send an HTTP request and return the status code, headers and body."
}

func (h *HTTPRequestTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method":  map[string]any{"type": "string", "description": "GET, POST, PUT, PATCH, DELETE or HEAD (default GET)"},
			"url":     map[string]any{"type": "string", "description": "Request URL"},
			"headers": map[string]any{"type": "object", "description": "Request headers"},
			"body":    map[string]any{"type": "string", "description": "Request body"},
		},
		"required": []any{"url"},
	}
}

func (h *HTTPRequestTool) Execute(ctx context.Context, input any) (any, error) {
	a, err := args(input)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(stringArg(a, "method"))
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method: %q", method)
	}
	url := stringArg(a, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	var body io.Reader
	if b := stringArg(a, "body"); b != "" {
		body = strings.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if hdrs, ok := a["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := clientOr(h.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	text := string(data)
	if len(data) > maxResponseBody {
		text = text[:maxResponseBody] + "\n... [truncated]"
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        text,
	}, nil
}
