package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/interactive"
)

// Interactive states of a chat item.
const (
	interactivePending  = "pending"
	interactiveConsumed = "consumed"
)

// UpsertChat creates the chat row or merges vars into its variables.
func (d *DB) UpsertChat(ctx context.Context, appID, chatID, teamID, tmbID string, vars map[string]any) error {
	if vars == nil {
		vars = map[string]any{}
	}
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO chats (app_id, chat_id, team_id, tmb_id, variables)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (app_id, chat_id) DO UPDATE SET
		     variables = chats.variables || EXCLUDED.variables, updated_at = NOW()`,
		appID, chatID, teamID, tmbID, varsJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

// ChatVariables returns the persisted variables of a chat, empty when the
// chat does not exist.
func (d *DB) ChatVariables(ctx context.Context, appID, chatID string) (map[string]any, error) {
	var varsJSON []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT variables FROM chats WHERE app_id = $1 AND chat_id = $2`, appID, chatID,
	).Scan(&varsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat variables: %w", err)
	}
	vars := map[string]any{}
	if err := json.Unmarshal(varsJSON, &vars); err != nil {
		return nil, fmt.Errorf("decode chat variables: %w", err)
	}
	return vars, nil
}

// InsertChatItems appends items to a chat in one transaction.
func (d *DB) InsertChatItems(ctx context.Context, appID, chatID string, items ...flowchat.ChatItem) error {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, it := range items {
		ivData, state, err := encodeInteractive(it)
		if err != nil {
			return err
		}
		respJSON, err := json.Marshal(responsesOrEmpty(it.Responses))
		if err != nil {
			return fmt.Errorf("marshal responses: %w", err)
		}
		repliesJSON, err := json.Marshal(repliesOrEmpty(it.Replies))
		if err != nil {
			return fmt.Errorf("marshal replies: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chat_items (data_id, app_id, chat_id, role, text, interactive, interactive_state, responses, replies, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.DataID, appID, chatID, string(it.Role), it.Text, ivData, state, respJSON, repliesJSON, it.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert chat item: %w", err)
		}
	}
	return tx.Commit()
}

// ListChatItems returns the newest limit items of a chat in chronological
// order. A limit of zero or less returns every item.
func (d *DB) ListChatItems(ctx context.Context, appID, chatID string, limit int) ([]flowchat.ChatItem, error) {
	query := `SELECT data_id, role, text, interactive, interactive_state, responses, replies, created_at
		 FROM chat_items WHERE app_id = $1 AND chat_id = $2 ORDER BY id DESC`
	args := []any{appID, chatID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat items: %w", err)
	}
	defer rows.Close()

	var items []flowchat.ChatItem
	for rows.Next() {
		var (
			it          flowchat.ChatItem
			role        string
			ivData      []byte
			state       string
			respJSON    []byte
			repliesJSON []byte
		)
		if err := rows.Scan(&it.DataID, &role, &it.Text, &ivData, &state, &respJSON, &repliesJSON, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat item: %w", err)
		}
		it.Role = flowchat.Role(role)
		if len(ivData) > 0 {
			iv, err := interactive.Decode(ivData)
			if err != nil {
				return nil, fmt.Errorf("decode interactive of %s: %w", it.DataID, err)
			}
			it.Interactive = iv
			it.Pending = state == interactivePending
		}
		json.Unmarshal(respJSON, &it.Responses)
		json.Unmarshal(repliesJSON, &it.Replies)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// ClaimInteractive consumes the pending interactive value of the latest
// item of a chat. The compare-and-set runs in a single statement, so two
// concurrent claims cannot both succeed.
func (d *DB) ClaimInteractive(ctx context.Context, appID, chatID string) (*flowchat.InteractiveValue, error) {
	var ivData []byte
	err := d.Pool.QueryRowContext(ctx,
		`UPDATE chat_items SET interactive_state = $3
		 WHERE id = (SELECT id FROM chat_items WHERE app_id = $1 AND chat_id = $2 ORDER BY id DESC LIMIT 1)
		   AND role = $4 AND interactive_state = $5
		 RETURNING interactive`,
		appID, chatID, interactiveConsumed, string(flowchat.RoleAI), interactivePending,
	).Scan(&ivData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flowchat.ErrNoPendingInteraction
	}
	if err != nil {
		return nil, fmt.Errorf("claim interactive: %w", err)
	}
	return interactive.Decode(ivData)
}

// MergeLastAIItem folds a resumed turn into the latest AI item: text,
// responses and replies are appended and the interactive value is
// replaced.
func (d *DB) MergeLastAIItem(ctx context.Context, appID, chatID string, it flowchat.ChatItem) error {
	ivData, state, err := encodeInteractive(it)
	if err != nil {
		return err
	}
	respJSON, err := json.Marshal(responsesOrEmpty(it.Responses))
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	repliesJSON, err := json.Marshal(repliesOrEmpty(it.Replies))
	if err != nil {
		return fmt.Errorf("marshal replies: %w", err)
	}
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE chat_items SET text = text || $3, responses = responses || $4::jsonb,
		     replies = replies || $8::jsonb, interactive = $5, interactive_state = $6
		 WHERE id = (SELECT id FROM chat_items WHERE app_id = $1 AND chat_id = $2 AND role = $7 ORDER BY id DESC LIMIT 1)`,
		appID, chatID, it.Text, respJSON, ivData, state, string(flowchat.RoleAI), repliesJSON,
	)
	if err != nil {
		return fmt.Errorf("merge chat item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat %s/%s has no AI item: %w", appID, chatID, ErrNoRows)
	}
	return nil
}

func encodeInteractive(it flowchat.ChatItem) ([]byte, string, error) {
	if it.Interactive == nil {
		return nil, "", nil
	}
	data, err := interactive.Encode(it.Interactive)
	if err != nil {
		return nil, "", fmt.Errorf("encode interactive: %w", err)
	}
	state := interactiveConsumed
	if it.Pending {
		state = interactivePending
	}
	return data, state, nil
}

func responsesOrEmpty(r []flowchat.NodeResponse) []flowchat.NodeResponse {
	if r == nil {
		return []flowchat.NodeResponse{}
	}
	return r
}

func repliesOrEmpty(r []string) []string {
	if r == nil {
		return []string{}
	}
	return r
}
