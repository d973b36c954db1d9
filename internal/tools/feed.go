package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedTool reads an RSS, Atom or JSON feed.
type FeedTool struct {
	Client *http.Client
}

func (f *FeedTool) Name() string { return "fetch_feed" }

func (f *FeedTool) Description() string {
	return "Fetch an RSS, Atom or JSON feed and return its items with title, link, date and summary."
}

func (f *FeedTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":       map[string]any{"type": "string", "description": "Feed URL"},
			"max_items": map[string]any{"type": "number", "description": "Maximum items to return"},
			"since":     map[string]any{"type": "string", "description": "RFC3339 cutoff; older items are dropped"},
		},
		"required": []any{"url"},
	}
}

func (f *FeedTool) Execute(ctx context.Context, input any) (any, error) {
	a, err := args(input)
	if err != nil {
		return nil, err
	}
	url := stringArg(a, "url")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	var since time.Time
	if s := stringArg(a, "since"); s != "" {
		if since, err = time.Parse(time.RFC3339, s); err != nil {
			return nil, fmt.Errorf("invalid since (use RFC3339): %w", err)
		}
	}
	limit := intArg(a, "max_items")

	fp := gofeed.NewParser()
	fp.Client = clientOr(f.Client)
	feed, err := fp.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	items := make([]map[string]any, 0, len(feed.Items))
	for _, item := range feed.Items {
		if !since.IsZero() && (item.PublishedParsed == nil || item.PublishedParsed.Before(since)) {
			continue
		}
		published := item.Published
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.Format(time.RFC3339)
		}
		items = append(items, map[string]any{
			"title":     item.Title,
			"link":      item.Link,
			"published": published,
			"summary":   item.Description,
		})
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return map[string]any{
		"title": feed.Title,
		"items": items,
	}, nil
}
