package ports

import (
	"context"

	"github.com/soochol/flowchat/internal/flowchat"
)

// ChatStore is the persistence boundary for conversations.
type ChatStore interface {
	LoadHistory(ctx context.Context, appID, chatID string, limit int) ([]flowchat.ChatItem, error)
	LoadVariables(ctx context.Context, appID, chatID string) (map[string]any, error)
	// LoadPendingInteractive returns the unconsumed interactive value of the
	// latest AI item, or nil.
	LoadPendingInteractive(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error)
	// ClaimInteractive atomically consumes the pending interactive value.
	// It returns flowchat.ErrNoPendingInteraction when there is none.
	ClaimInteractive(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error)
	SaveTurn(ctx context.Context, turn *flowchat.ChatTurn) error
	// MergeInteractiveTurn folds a resumed run into the paused AI item.
	MergeInteractiveTurn(ctx context.Context, turn *flowchat.ChatTurn) error
}

// Billing accepts the usage ledger of one run.
type Billing interface {
	RecordUsage(ctx context.Context, teamID, appID string, entries []flowchat.UsageEntry, durationSeconds float64) error
}
