package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soochol/flowchat/internal/config"
	"github.com/soochol/flowchat/internal/db"
)

// Open selects the storage driver named by cfg. The returned close func
// releases the underlying database and is never nil.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Repository, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), noop, nil
	case "postgres":
		if cfg.URL == "" {
			return nil, noop, fmt.Errorf("postgres driver requires database.url")
		}
		database, err := db.New(ctx, cfg.URL)
		if err != nil {
			return nil, noop, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, noop, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database connected", "driver", cfg.Driver)
		return NewPersistent(NewMemory(), database), database.Close, nil
	case "badger":
		repo, err := OpenBadger(cfg.Path, logger)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("database opened", "driver", cfg.Driver, "path", cfg.Path)
		return repo, repo.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
