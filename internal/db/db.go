package db

import (
	"context"
	"database/sql"
	"fmt"
)

// DB wraps a database/sql connection pool for PostgreSQL.
type DB struct {
	Pool *sql.DB
}

// New creates a new database connection.
// The caller must import a PostgreSQL driver (e.g., _ "github.com/lib/pq").
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS apps (
    id          TEXT PRIMARY KEY,
    team_id     TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL DEFAULT '',
    definition  JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chats (
    app_id      TEXT NOT NULL,
    chat_id     TEXT NOT NULL,
    team_id     TEXT NOT NULL DEFAULT '',
    tmb_id      TEXT NOT NULL DEFAULT '',
    variables   JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (app_id, chat_id)
);

CREATE TABLE IF NOT EXISTS chat_items (
    id                BIGSERIAL PRIMARY KEY,
    data_id           TEXT NOT NULL,
    app_id            TEXT NOT NULL,
    chat_id           TEXT NOT NULL,
    role              TEXT NOT NULL,
    text              TEXT NOT NULL DEFAULT '',
    interactive       BYTEA,
    interactive_state TEXT NOT NULL DEFAULT '',
    responses         JSONB NOT NULL DEFAULT '[]',
    replies           JSONB NOT NULL DEFAULT '[]',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE chat_items ADD COLUMN IF NOT EXISTS replies JSONB NOT NULL DEFAULT '[]';

CREATE INDEX IF NOT EXISTS idx_chat_items_chat ON chat_items(app_id, chat_id, id);

CREATE TABLE IF NOT EXISTS usages (
    id               TEXT PRIMARY KEY,
    team_id          TEXT NOT NULL,
    app_id           TEXT NOT NULL,
    entries          JSONB NOT NULL DEFAULT '[]',
    total_points     DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_usages_team ON usages(team_id, created_at DESC);
`
