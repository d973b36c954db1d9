package ports

import (
	"context"

	"github.com/soochol/flowchat/internal/flowchat"
)

// AppStore loads persisted graph definitions.
type AppStore interface {
	GetApp(ctx context.Context, appID string) (*flowchat.App, error)
}

// DatasetSearcher runs a knowledge-base lookup. Results are ordered by
// descending relevance.
type DatasetSearcher interface {
	Search(ctx context.Context, datasetID, query string, limit int) ([]flowchat.Quote, error)
}
