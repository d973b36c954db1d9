package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const (
	maxPageBytes = 1 << 20
	maxPageText  = 32 * 1024
)

// WebpageTool fetches a page and returns its readable text.
type WebpageTool struct {
	Client *http.Client
}

func (w *WebpageTool) Name() string { return "get_webpage" }

func (w *WebpageTool) Description() string {
	return "Fetch a web page and return its title and readable text without markup."
}

func (w *WebpageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":      map[string]any{"type": "string", "description": "Page URL"},
			"selector": map[string]any{"type": "string", "description": "Optional CSS selector limiting the extracted region"},
		},
		"required": []any{"url"},
	}
}

func (w *WebpageTool) Execute(ctx context.Context, input any) (any, error) {
	a, err := args(input)
	if err != nil {
		return nil, err
	}
	url := stringArg(a, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "flowchat/1.0 (page reader)")
	resp, err := clientOr(w.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	title, text := pageText(doc, stringArg(a, "selector"))
	if len(text) > maxPageText {
		text = text[:maxPageText] + "\n... [truncated]"
	}
	return map[string]any{
		"title": title,
		"text":  text,
		"url":   url,
	}, nil
}

// pageText strips non-content elements and joins the text of block
// elements with newlines.
func pageText(doc *goquery.Document, selector string) (string, string) {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, svg, iframe").Remove()

	root := doc.Find("body")
	if selector != "" {
		root = doc.Find(selector)
	}
	var lines []string
	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td").Each(func(_ int, s *goquery.Selection) {
		if line := strings.Join(strings.Fields(s.Text()), " "); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		return title, strings.Join(strings.Fields(root.Text()), " ")
	}
	return title, strings.Join(lines, "\n")
}
