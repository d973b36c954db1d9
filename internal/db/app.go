package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/flowchat/internal/flowchat"
)

// ErrNoRows is returned when a lookup matches nothing.
var ErrNoRows = errors.New("no rows")

// UpsertApp stores an app definition, replacing any previous version.
func (d *DB) UpsertApp(ctx context.Context, app *flowchat.App) error {
	def, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal app: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO apps (id, team_id, name, definition)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET team_id = EXCLUDED.team_id, name = EXCLUDED.name,
		     definition = EXCLUDED.definition, updated_at = NOW()`,
		app.ID, app.TeamID, app.Name, def,
	)
	if err != nil {
		return fmt.Errorf("upsert app: %w", err)
	}
	return nil
}

// GetApp retrieves an app definition by id.
func (d *DB) GetApp(ctx context.Context, id string) (*flowchat.App, error) {
	var def []byte
	err := d.Pool.QueryRowContext(ctx, `SELECT definition FROM apps WHERE id = $1`, id).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("app %s: %w", id, ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	app := &flowchat.App{}
	if err := json.Unmarshal(def, app); err != nil {
		return nil, fmt.Errorf("decode app %s: %w", id, err)
	}
	return app, nil
}

// ListApps returns every app ordered by id.
func (d *DB) ListApps(ctx context.Context) ([]*flowchat.App, error) {
	rows, err := d.Pool.QueryContext(ctx, `SELECT definition FROM apps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var result []*flowchat.App
	for rows.Next() {
		var def []byte
		if err := rows.Scan(&def); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		app := &flowchat.App{}
		if err := json.Unmarshal(def, app); err != nil {
			return nil, fmt.Errorf("decode app: %w", err)
		}
		result = append(result, app)
	}
	return result, rows.Err()
}
