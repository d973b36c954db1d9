package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/interactive"
	memstore "github.com/soochol/flowchat/internal/repository/memory"
)

// MemoryRepository keeps everything in process memory. Chat updates run
// under the store lock, which makes ClaimInteractive atomic.
type MemoryRepository struct {
	apps  *memstore.Store[*flowchat.App]
	chats *memstore.Store[*chat]

	mu     sync.RWMutex
	usages []*UsageRecord
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		apps:  memstore.New(func(a *flowchat.App) string { return a.ID }),
		chats: memstore.New(func(c *chat) string { return chatKey(c.AppID, c.ChatID) }),
	}
}

func (r *MemoryRepository) SaveApp(ctx context.Context, app *flowchat.App) error {
	if app.ID == "" {
		return fmt.Errorf("app id is required")
	}
	return r.apps.Set(ctx, app)
}

func (r *MemoryRepository) GetApp(ctx context.Context, id string) (*flowchat.App, error) {
	app, err := r.apps.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("app %s: %w", id, ErrNotFound)
	}
	return app, err
}

func (r *MemoryRepository) ListApps(ctx context.Context) ([]*flowchat.App, error) {
	return r.apps.All(ctx)
}

func (r *MemoryRepository) LoadHistory(ctx context.Context, appID, chatID string, limit int) ([]flowchat.ChatItem, error) {
	var items []flowchat.ChatItem
	r.view(ctx, appID, chatID, func(c *chat) { items = c.history(limit) })
	return items, nil
}

func (r *MemoryRepository) LoadVariables(ctx context.Context, appID, chatID string) (map[string]any, error) {
	vars := map[string]any{}
	r.view(ctx, appID, chatID, func(c *chat) {
		for k, v := range c.Variables {
			vars[k] = v
		}
	})
	return vars, nil
}

func (r *MemoryRepository) LoadPendingInteractive(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	var iv *flowchat.InteractiveValue
	r.view(ctx, appID, chatID, func(c *chat) { iv = interactive.Latest(c.Items) })
	return iv, nil
}

func (r *MemoryRepository) ClaimInteractive(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	var iv *flowchat.InteractiveValue
	err := r.chats.Update(ctx, chatKey(appID, chatID), func(c *chat, found bool) (*chat, error) {
		if !found {
			return nil, flowchat.ErrNoPendingInteraction
		}
		var err error
		iv, err = c.claim()
		return c, err
	})
	return iv, err
}

func (r *MemoryRepository) SaveTurn(ctx context.Context, turn *flowchat.ChatTurn) error {
	return r.chats.Update(ctx, chatKey(turn.AppID, turn.ChatID), func(c *chat, found bool) (*chat, error) {
		if !found {
			c = newChat(turn)
		}
		c.appendTurn(turn)
		return c, nil
	})
}

func (r *MemoryRepository) MergeInteractiveTurn(ctx context.Context, turn *flowchat.ChatTurn) error {
	return r.chats.Update(ctx, chatKey(turn.AppID, turn.ChatID), func(c *chat, found bool) (*chat, error) {
		if !found {
			c = newChat(turn)
		}
		c.mergeTurn(turn)
		return c, nil
	})
}

func (r *MemoryRepository) RecordUsage(_ context.Context, teamID, appID string, entries []flowchat.UsageEntry, seconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usages = append(r.usages, newUsageRecord(uuid.NewString(), teamID, appID, entries, seconds))
	return nil
}

func (r *MemoryRepository) ListUsage(_ context.Context, teamID string) ([]*UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*UsageRecord
	for _, u := range r.usages {
		if u.TeamID == teamID {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// view runs fn on a chat under the store read lock. Missing chats are
// skipped.
func (r *MemoryRepository) view(ctx context.Context, appID, chatID string, fn func(c *chat)) {
	r.chats.View(ctx, chatKey(appID, chatID), fn)
}
