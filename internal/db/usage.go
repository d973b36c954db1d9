package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soochol/flowchat/internal/flowchat"
)

// UsageRow is one billed run.
type UsageRow struct {
	ID              string                `json:"id"`
	TeamID          string                `json:"teamId"`
	AppID           string                `json:"appId"`
	Entries         []flowchat.UsageEntry `json:"entries"`
	TotalPoints     float64               `json:"totalPoints"`
	DurationSeconds float64               `json:"durationSeconds"`
	CreatedAt       time.Time             `json:"createdAt"`
}

// InsertUsage stores the ledger of one run.
func (d *DB) InsertUsage(ctx context.Context, u *UsageRow) error {
	entries := u.Entries
	if entries == nil {
		entries = []flowchat.UsageEntry{}
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal usage entries: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO usages (id, team_id, app_id, entries, total_points, duration_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.TeamID, u.AppID, entriesJSON, u.TotalPoints, u.DurationSeconds, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// ListUsage returns the usage rows of a team, newest first.
func (d *DB) ListUsage(ctx context.Context, teamID string) ([]*UsageRow, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT id, team_id, app_id, entries, total_points, duration_seconds, created_at
		 FROM usages WHERE team_id = $1 ORDER BY created_at DESC`, teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var result []*UsageRow
	for rows.Next() {
		u := &UsageRow{}
		var entriesJSON []byte
		if err := rows.Scan(&u.ID, &u.TeamID, &u.AppID, &entriesJSON, &u.TotalPoints, &u.DurationSeconds, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		json.Unmarshal(entriesJSON, &u.Entries)
		result = append(result, u)
	}
	return result, rows.Err()
}
