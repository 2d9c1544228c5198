package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AppendMessage adds a message to a conversation log. A missing id is generated,
// a zero timestamp becomes now. Re-appending an existing id is a no-op.
func (db *DB) AppendMessage(ctx context.Context, m *Message) error {
	if m.ScopeID == "" {
		return fmt.Errorf("append message: scope id required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, scope_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, m.ScopeID, m.Role, m.Content, m.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// MessagesForScope returns a conversation's messages in arrival order.
func (db *DB) MessagesForScope(ctx context.Context, scopeID string) ([]Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, scope_id, role, content, created_at
		FROM messages WHERE scope_id = ?
		ORDER BY created_at, seq
	`, scopeID)
	if err != nil {
		return nil, fmt.Errorf("messages for scope: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ScopeID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecentMessages returns the last n messages of a conversation, oldest first.
// n <= 0 returns the whole log.
func (db *DB) RecentMessages(ctx context.Context, scopeID string, n int) ([]Message, error) {
	if n <= 0 {
		return db.MessagesForScope(ctx, scopeID)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, scope_id, role, content, created_at
		FROM messages WHERE scope_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`, scopeID, n)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ScopeID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// Scopes returns every conversation id that has logged messages, most recent first.
func (db *DB) Scopes(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT scope_id FROM messages GROUP BY scope_id ORDER BY MAX(created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}
