package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Turn is one persisted conversation turn. ToolLog carries the serialized
// tool-call log for assistant turns that used tools, empty otherwise.
type Turn struct {
	ConversationID string
	UserID         string
	Role           string // user or assistant
	Content        string
	ToolLog        string
	CreatedAt      time.Time
}

// AppendTurn persists one turn. Called by the HTTP layer after a turn is
// finalized; the orchestrator itself only reads history.
func (s *Store) AppendTurn(ctx context.Context, t *Turn) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (conversation_id, user_id, role, content, tool_log, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ConversationID, t.UserID, t.Role, t.Content, t.ToolLog,
		createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last n turns of a conversation in chronological
// order, preserved verbatim for replay into the model.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, n int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, role, content, tool_log, created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY id DESC LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ConversationID, &t.UserID, &t.Role, &t.Content, &t.ToolLog, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Instructions returns the standing instructions for a user. The bool is
// false when the user has none.
func (s *Store) Instructions(ctx context.Context, userID string) (string, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM instructions WHERE user_id = ?`, userID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading instructions: %w", err)
	}
	return body, body != "", nil
}

// SetInstructions replaces a user's standing instructions, last-write-wins.
func (s *Store) SetInstructions(ctx context.Context, userID, body string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instructions (user_id, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		userID, body, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving instructions: %w", err)
	}
	return nil
}

// UsersWithInstructions lists users holding non-empty standing instructions.
// The webhook reactor fans events out across them.
func (s *Store) UsersWithInstructions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM instructions WHERE body <> '' ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing instruction users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
