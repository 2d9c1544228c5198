package store

import "context"

// Backend is a durable home for memory state and conversation logs.
// Both *DB and *RedisStore satisfy it.
type Backend interface {
	Save(ctx context.Context, snap Snapshot, force bool) error
	Load(ctx context.Context) (Snapshot, error)
	AppendMessage(ctx context.Context, m *Message) error
	MessagesForScope(ctx context.Context, scopeID string) ([]Message, error)
	RecentMessages(ctx context.Context, scopeID string, n int) ([]Message, error)
	Scopes(ctx context.Context) ([]string, error)
	Close() error
}

var (
	_ Backend = (*DB)(nil)
	_ Backend = (*RedisStore)(nil)
)
