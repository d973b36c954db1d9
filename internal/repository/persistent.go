package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/soochol/flowchat/internal/db"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/interactive"
)

// ChatDB defines the DB-layer methods needed by the persistent repository.
// *db.DB satisfies this interface.
type ChatDB interface {
	UpsertApp(ctx context.Context, app *flowchat.App) error
	GetApp(ctx context.Context, id string) (*flowchat.App, error)
	ListApps(ctx context.Context) ([]*flowchat.App, error)
	UpsertChat(ctx context.Context, appID, chatID, teamID, tmbID string, vars map[string]any) error
	ChatVariables(ctx context.Context, appID, chatID string) (map[string]any, error)
	InsertChatItems(ctx context.Context, appID, chatID string, items ...flowchat.ChatItem) error
	ListChatItems(ctx context.Context, appID, chatID string, limit int) ([]flowchat.ChatItem, error)
	ClaimInteractive(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error)
	MergeLastAIItem(ctx context.Context, appID, chatID string, it flowchat.ChatItem) error
	InsertUsage(ctx context.Context, u *db.UsageRow) error
	ListUsage(ctx context.Context, teamID string) ([]*db.UsageRow, error)
}

// PersistentRepository wraps a MemoryRepository with a PostgreSQL backend.
// Writes go to both stores (DB failure is logged but non-fatal). Chat reads
// prefer the database and fall back to memory; app reads try memory first.
// Claims go to the database, whose conditional update is the single
// source of truth for consumption.
type PersistentRepository struct {
	mem *MemoryRepository
	db  ChatDB
}

// NewPersistent creates a repository backed by both memory and PostgreSQL.
func NewPersistent(mem *MemoryRepository, database ChatDB) *PersistentRepository {
	return &PersistentRepository{mem: mem, db: database}
}

func (r *PersistentRepository) SaveApp(ctx context.Context, app *flowchat.App) error {
	if err := r.mem.SaveApp(ctx, app); err != nil {
		return err
	}
	if err := r.db.UpsertApp(ctx, app); err != nil {
		slog.Warn("db save app failed, in-memory only", "app_id", app.ID, "err", err)
	}
	return nil
}

func (r *PersistentRepository) GetApp(ctx context.Context, id string) (*flowchat.App, error) {
	app, err := r.mem.GetApp(ctx, id)
	if err == nil {
		return app, nil
	}
	dbApp, dbErr := r.db.GetApp(ctx, id)
	if dbErr != nil {
		if !errors.Is(dbErr, db.ErrNoRows) {
			slog.Warn("db get app failed", "app_id", id, "err", dbErr)
		}
		return nil, err
	}
	_ = r.mem.SaveApp(ctx, dbApp)
	return dbApp, nil
}

func (r *PersistentRepository) ListApps(ctx context.Context) ([]*flowchat.App, error) {
	apps, err := r.db.ListApps(ctx)
	if err == nil {
		return apps, nil
	}
	slog.Warn("db list apps failed, falling back to in-memory", "err", err)
	return r.mem.ListApps(ctx)
}

func (r *PersistentRepository) LoadHistory(ctx context.Context, appID, chatID string, limit int) ([]flowchat.ChatItem, error) {
	items, err := r.db.ListChatItems(ctx, appID, chatID, limit)
	if err == nil {
		return items, nil
	}
	slog.Warn("db load history failed, falling back to in-memory", "chat_id", chatID, "err", err)
	return r.mem.LoadHistory(ctx, appID, chatID, limit)
}

func (r *PersistentRepository) LoadVariables(ctx context.Context, appID, chatID string) (map[string]any, error) {
	vars, err := r.db.ChatVariables(ctx, appID, chatID)
	if err == nil {
		return vars, nil
	}
	slog.Warn("db load variables failed, falling back to in-memory", "chat_id", chatID, "err", err)
	return r.mem.LoadVariables(ctx, appID, chatID)
}

func (r *PersistentRepository) LoadPendingInteractive(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	items, err := r.db.ListChatItems(ctx, appID, chatID, 1)
	if err == nil {
		return interactive.Latest(items), nil
	}
	slog.Warn("db load interactive failed, falling back to in-memory", "chat_id", chatID, "err", err)
	return r.mem.LoadPendingInteractive(ctx, appID, chatID)
}

func (r *PersistentRepository) ClaimInteractive(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	iv, err := r.db.ClaimInteractive(ctx, appID, chatID)
	if err == nil || errors.Is(err, flowchat.ErrNoPendingInteraction) {
		// Keep the cached copy consistent with the database.
		_, _ = r.mem.ClaimInteractive(ctx, appID, chatID)
		return iv, err
	}
	slog.Warn("db claim interactive failed, falling back to in-memory", "chat_id", chatID, "err", err)
	return r.mem.ClaimInteractive(ctx, appID, chatID)
}

func (r *PersistentRepository) SaveTurn(ctx context.Context, turn *flowchat.ChatTurn) error {
	if err := r.mem.SaveTurn(ctx, turn); err != nil {
		return err
	}
	if err := r.db.UpsertChat(ctx, turn.AppID, turn.ChatID, turn.TeamID, turn.TmbID, turn.Variables); err != nil {
		slog.Warn("db save chat failed, in-memory only", "chat_id", turn.ChatID, "err", err)
		return nil
	}
	if err := r.db.InsertChatItems(ctx, turn.AppID, turn.ChatID, turn.User, turn.Assistant); err != nil {
		slog.Warn("db save chat items failed, in-memory only", "chat_id", turn.ChatID, "err", err)
	}
	return nil
}

func (r *PersistentRepository) MergeInteractiveTurn(ctx context.Context, turn *flowchat.ChatTurn) error {
	if err := r.mem.MergeInteractiveTurn(ctx, turn); err != nil {
		return err
	}
	if err := r.db.UpsertChat(ctx, turn.AppID, turn.ChatID, turn.TeamID, turn.TmbID, turn.Variables); err != nil {
		slog.Warn("db save chat failed, in-memory only", "chat_id", turn.ChatID, "err", err)
		return nil
	}
	err := r.db.MergeLastAIItem(ctx, turn.AppID, turn.ChatID, mergedItem(turn))
	if errors.Is(err, db.ErrNoRows) {
		err = r.db.InsertChatItems(ctx, turn.AppID, turn.ChatID, turn.User, turn.Assistant)
	}
	if err != nil {
		slog.Warn("db merge chat item failed, in-memory only", "chat_id", turn.ChatID, "err", err)
	}
	return nil
}

func (r *PersistentRepository) RecordUsage(ctx context.Context, teamID, appID string, entries []flowchat.UsageEntry, seconds float64) error {
	rec := newUsageRecord(uuid.NewString(), teamID, appID, entries, seconds)
	r.mem.mu.Lock()
	r.mem.usages = append(r.mem.usages, rec)
	r.mem.mu.Unlock()
	row := db.UsageRow(*rec)
	if err := r.db.InsertUsage(ctx, &row); err != nil {
		slog.Warn("db record usage failed, in-memory only", "team_id", teamID, "err", err)
	}
	return nil
}

func (r *PersistentRepository) ListUsage(ctx context.Context, teamID string) ([]*UsageRecord, error) {
	rows, err := r.db.ListUsage(ctx, teamID)
	if err != nil {
		slog.Warn("db list usage failed, falling back to in-memory", "err", err)
		return r.mem.ListUsage(ctx, teamID)
	}
	out := make([]*UsageRecord, len(rows))
	for i, row := range rows {
		rec := UsageRecord(*row)
		out[i] = &rec
	}
	return out, nil
}
