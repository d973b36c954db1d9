package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/interactive"
	"github.com/soochol/flowchat/internal/xjson"
)

const (
	appPrefix   = "app/"
	chatPrefix  = "chat/"
	usagePrefix = "usage/"

	maxConflictRetries = 8
)

// BadgerRepository stores everything in an embedded badger database.
// Chat mutations run in read-write transactions; conflicting writers are
// retried, so a pending interactive value is claimed at most once.
type BadgerRepository struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (or creates) a badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerRepository{db: db, logger: logger}, nil
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func (r *BadgerRepository) SaveApp(_ context.Context, app *flowchat.App) error {
	if app.ID == "" {
		return fmt.Errorf("app id is required")
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, appPrefix+app.ID, app)
	})
}

func (r *BadgerRepository) GetApp(_ context.Context, id string) (*flowchat.App, error) {
	var app flowchat.App
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, appPrefix+id, &app)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("app %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *BadgerRepository) ListApps(_ context.Context) ([]*flowchat.App, error) {
	var apps []*flowchat.App
	err := r.scan(appPrefix, func(value []byte) error {
		var app flowchat.App
		if err := xjson.Unmarshal(value, &app); err != nil {
			return err
		}
		apps = append(apps, &app)
		return nil
	})
	return apps, err
}

func (r *BadgerRepository) LoadHistory(_ context.Context, appID, chatID string, limit int) ([]flowchat.ChatItem, error) {
	c, err := r.readChat(appID, chatID)
	if err != nil || c == nil {
		return nil, err
	}
	return c.history(limit), nil
}

func (r *BadgerRepository) LoadVariables(_ context.Context, appID, chatID string) (map[string]any, error) {
	c, err := r.readChat(appID, chatID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Variables == nil {
		return map[string]any{}, nil
	}
	return c.Variables, nil
}

func (r *BadgerRepository) LoadPendingInteractive(_ context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	c, err := r.readChat(appID, chatID)
	if err != nil || c == nil {
		return nil, err
	}
	return interactive.Latest(c.Items), nil
}

func (r *BadgerRepository) ClaimInteractive(_ context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	var iv *flowchat.InteractiveValue
	err := r.updateChat(appID, chatID, func(c *chat, found bool) (*chat, error) {
		if !found {
			return nil, flowchat.ErrNoPendingInteraction
		}
		var err error
		iv, err = c.claim()
		return c, err
	})
	return iv, err
}

func (r *BadgerRepository) SaveTurn(_ context.Context, turn *flowchat.ChatTurn) error {
	return r.updateChat(turn.AppID, turn.ChatID, func(c *chat, found bool) (*chat, error) {
		if !found {
			c = newChat(turn)
		}
		c.appendTurn(turn)
		return c, nil
	})
}

func (r *BadgerRepository) MergeInteractiveTurn(_ context.Context, turn *flowchat.ChatTurn) error {
	return r.updateChat(turn.AppID, turn.ChatID, func(c *chat, found bool) (*chat, error) {
		if !found {
			c = newChat(turn)
		}
		c.mergeTurn(turn)
		return c, nil
	})
}

func (r *BadgerRepository) RecordUsage(_ context.Context, teamID, appID string, entries []flowchat.UsageEntry, seconds float64) error {
	rec := newUsageRecord(uuid.NewString(), teamID, appID, entries, seconds)
	key := fmt.Sprintf("%s%s/%020d-%s", usagePrefix, teamID, rec.CreatedAt.UnixNano(), rec.ID)
	return r.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, key, rec)
	})
}

func (r *BadgerRepository) ListUsage(_ context.Context, teamID string) ([]*UsageRecord, error) {
	var out []*UsageRecord
	err := r.scan(usagePrefix+teamID+"/", func(value []byte) error {
		var rec UsageRecord
		if err := xjson.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *BadgerRepository) readChat(appID, chatID string) (*chat, error) {
	var c chat
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chatPrefix+chatKey(appID, chatID), &c)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chat %s/%s: %w", appID, chatID, err)
	}
	return &c, nil
}

// updateChat applies fn to the stored chat inside one transaction. When
// fn returns an error the transaction is discarded.
func (r *BadgerRepository) updateChat(appID, chatID string, fn func(c *chat, found bool) (*chat, error)) error {
	key := chatPrefix + chatKey(appID, chatID)
	for attempt := 0; ; attempt++ {
		err := r.db.Update(func(txn *badger.Txn) error {
			var c chat
			found := true
			if err := getJSON(txn, key, &c); errors.Is(err, badger.ErrKeyNotFound) {
				found = false
			} else if err != nil {
				return err
			}
			var cur *chat
			if found {
				cur = &c
			}
			next, err := fn(cur, found)
			if err != nil {
				return err
			}
			next.UpdatedAt = time.Now().UTC()
			return putJSON(txn, key, next)
		})
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}
		r.logger.Debug("badger chat update conflict, retrying", "chat_id", chatID, "attempt", attempt+1)
	}
}

func (r *BadgerRepository) scan(prefix string, fn func(value []byte) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(value); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	return xjson.Unmarshal(data, v)
}

func putJSON(txn *badger.Txn, key string, v any) error {
	data, err := xjson.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}
