package nodes

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
)

const defaultSearchLimit = 5

// DatasetSearchHandler queries every configured dataset concurrently and
// merges the hits by score.
type DatasetSearchHandler struct {
	deps Deps
}

func (h *DatasetSearchHandler) Handle(ctx context.Context, call *engine.Call) (*engine.Result, error) {
	if h.deps.Datasets == nil {
		return nil, fmt.Errorf("no dataset searcher configured")
	}
	q := question(call)
	ids := datasetIDs(call.Input(inputDatasets))
	limit := call.Int(inputLimit, defaultSearchLimit)
	minScore, _ := toFloat(call.Input(inputSimilarity))

	results := make([][]flowchat.Quote, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			quotes, err := h.deps.Datasets.Search(gctx, id, q, limit)
			if err != nil {
				return fmt.Errorf("search dataset %q: %w", id, err)
			}
			results[i] = quotes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var quotes []flowchat.Quote
	for _, rs := range results {
		for _, quote := range rs {
			if quote.Score >= minScore {
				quotes = append(quotes, quote)
			}
		}
	}
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Score > quotes[j].Score })
	if len(quotes) > limit {
		quotes = quotes[:limit]
	}
	if quotes == nil {
		quotes = []flowchat.Quote{}
	}

	out := map[string]any{flowchat.PortQuoteQA: quotes}
	if len(quotes) == 0 {
		out[flowchat.PortIsEmpty] = true
	} else {
		out[flowchat.PortUnEmpty] = true
	}
	res := &engine.Result{
		Outputs:  out,
		Response: &flowchat.NodeResponse{Query: q, QuoteCount: len(quotes)},
	}
	// Searches through an embedding model are billed against it.
	if name := call.String(inputModel); name != "" && h.deps.Models != nil {
		if entry, err := h.deps.Models.Get(name); err == nil {
			in := h.deps.counter(entry.ID).Count(q) * max(len(ids), 1)
			res.Usage = []flowchat.UsageEntry{{
				Model:       entry.ID,
				InputTokens: in,
				TotalPoints: entry.Points(in, 0),
			}}
		}
	}
	return res, nil
}

// datasetIDs accepts a list of ids or of {datasetId} objects.
func datasetIDs(v any) []string {
	if list, ok := v.([]any); ok {
		ids := make([]string, 0, len(list))
		for _, item := range list {
			switch x := item.(type) {
			case string:
				ids = append(ids, x)
			case map[string]any:
				if id, ok := x["datasetId"].(string); ok && id != "" {
					ids = append(ids, id)
				}
			}
		}
		return ids
	}
	return stringList(v)
}
