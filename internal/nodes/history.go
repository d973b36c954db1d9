package nodes

import (
	"context"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
)

const defaultMaxHistories = 6

// HistoryHandler outputs the last turns of the conversation.
type HistoryHandler struct {
	// MaxHistories is the default number of turns; the node's
	// "maxHistories" input overrides it.
	MaxHistories int
}

func (h *HistoryHandler) Handle(_ context.Context, call *engine.Call) (*engine.Result, error) {
	turns := h.MaxHistories
	if turns <= 0 {
		turns = defaultMaxHistories
	}
	turns = call.Int("maxHistories", turns)
	return &engine.Result{
		Outputs: map[string]any{flowchat.PortHistory: lastTurns(call.Run.History, turns)},
	}, nil
}

// lastTurns keeps the items of the last n human/AI exchanges.
func lastTurns(history []flowchat.ChatItem, n int) []flowchat.ChatItem {
	if n <= 0 {
		return []flowchat.ChatItem{}
	}
	items := n * 2
	if len(history) <= items {
		return append([]flowchat.ChatItem(nil), history...)
	}
	return append([]flowchat.ChatItem(nil), history[len(history)-items:]...)
}
