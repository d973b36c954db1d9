// Package repository persists apps, conversations and usage behind the
// ports the chat service depends on.
package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/flowchat/ports"
)

// ErrNotFound is returned when an app does not exist.
var ErrNotFound = errors.New("not found")

// Repository is implemented by every storage driver.
type Repository interface {
	ports.ChatStore
	ports.Billing
	ports.AppStore
	SaveApp(ctx context.Context, app *flowchat.App) error
	ListApps(ctx context.Context) ([]*flowchat.App, error)
	ListUsage(ctx context.Context, teamID string) ([]*UsageRecord, error)
}

// UsageRecord is the billed ledger of one run.
type UsageRecord struct {
	ID              string                `json:"id"`
	TeamID          string                `json:"teamId"`
	AppID           string                `json:"appId"`
	Entries         []flowchat.UsageEntry `json:"entries"`
	TotalPoints     float64               `json:"totalPoints"`
	DurationSeconds float64               `json:"durationSeconds"`
	CreatedAt       time.Time             `json:"createdAt"`
}

func newUsageRecord(id, teamID, appID string, entries []flowchat.UsageEntry, seconds float64) *UsageRecord {
	rec := &UsageRecord{
		ID:              id,
		TeamID:          teamID,
		AppID:           appID,
		Entries:         append([]flowchat.UsageEntry(nil), entries...),
		DurationSeconds: seconds,
		CreatedAt:       time.Now().UTC(),
	}
	for _, e := range entries {
		rec.TotalPoints += e.TotalPoints
	}
	return rec
}

// chat is the stored state of one conversation, shared by the memory and
// badger drivers.
type chat struct {
	AppID     string              `json:"appId"`
	ChatID    string              `json:"chatId"`
	TeamID    string              `json:"teamId"`
	TmbID     string              `json:"tmbId"`
	Variables map[string]any      `json:"variables"`
	Items     []flowchat.ChatItem `json:"items"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func chatKey(appID, chatID string) string {
	return appID + "/" + chatID
}

func newChat(turn *flowchat.ChatTurn) *chat {
	return &chat{
		AppID:     turn.AppID,
		ChatID:    turn.ChatID,
		TeamID:    turn.TeamID,
		TmbID:     turn.TmbID,
		Variables: map[string]any{},
	}
}

// history returns the last limit items, or all when limit <= 0.
func (c *chat) history(limit int) []flowchat.ChatItem {
	items := c.Items
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return append([]flowchat.ChatItem(nil), items...)
}

func (c *chat) mergeVariables(vars map[string]any) {
	if c.Variables == nil {
		c.Variables = map[string]any{}
	}
	for k, v := range vars {
		c.Variables[k] = v
	}
}

// appendTurn stores the user and assistant items of a completed run.
func (c *chat) appendTurn(turn *flowchat.ChatTurn) {
	c.Items = append(c.Items, turn.User, turn.Assistant)
	c.mergeVariables(turn.Variables)
	c.UpdatedAt = time.Now().UTC()
}

// mergedItem is the AI item of a resumed turn carrying the user reply.
func mergedItem(turn *flowchat.ChatTurn) flowchat.ChatItem {
	it := turn.Assistant
	if turn.User.Text != "" {
		it.Replies = append(slices.Clone(it.Replies), turn.User.Text)
	}
	return it
}

// mergeTurn folds a resumed run into the latest AI item, recording the
// user reply on it. Without one the turn is appended.
func (c *chat) mergeTurn(turn *flowchat.ChatTurn) {
	idx := -1
	for i := len(c.Items) - 1; i >= 0; i-- {
		if c.Items[i].Role == flowchat.RoleAI {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.appendTurn(turn)
		return
	}
	m := mergedItem(turn)
	it := &c.Items[idx]
	it.Text += m.Text
	it.Responses = append(it.Responses, m.Responses...)
	it.Replies = append(it.Replies, m.Replies...)
	it.Interactive = m.Interactive
	it.Pending = m.Pending
	c.mergeVariables(turn.Variables)
	c.UpdatedAt = time.Now().UTC()
}

// claim consumes the pending interactive value of the last item.
func (c *chat) claim() (*flowchat.InteractiveValue, error) {
	if len(c.Items) == 0 {
		return nil, flowchat.ErrNoPendingInteraction
	}
	last := &c.Items[len(c.Items)-1]
	if last.Role != flowchat.RoleAI || !last.Pending || last.Interactive == nil {
		return nil, flowchat.ErrNoPendingInteraction
	}
	last.Pending = false
	return last.Interactive, nil
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PersistentRepository)(nil)
	_ Repository = (*BadgerRepository)(nil)
)
