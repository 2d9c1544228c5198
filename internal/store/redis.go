package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records, lists and message logs in Redis hashes and lists.
// It is an alternative to the SQLite DB for deployments that share state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the Redis instance at url and verifies it with PING.
func OpenRedis(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "recall"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) recordsKey() string { return r.prefix + ":records" }
func (r *RedisStore) listsKey() string   { return r.prefix + ":lists" }
func (r *RedisStore) messagesKey(scope string) string {
	return r.prefix + ":messages:" + scope
}
func (r *RedisStore) messageIDsKey(scope string) string {
	return r.prefix + ":message_ids:" + scope
}
func (r *RedisStore) scopesKey() string { return r.prefix + ":scopes" }

// Save applies a snapshot atomically in a MULTI/EXEC pipeline.
func (r *RedisStore) Save(ctx context.Context, snap Snapshot, force bool) error {
	records := make(map[string]any, len(snap.Records))
	for _, rec := range snap.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		records[rec.ID] = data
	}
	lists := make(map[string]any, len(snap.Lists))
	for _, l := range snap.Lists {
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("marshal list %s: %w", l.ID, err)
		}
		lists[l.ID] = data
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if force {
			pipe.Del(ctx, r.recordsKey(), r.listsKey())
		}
		if len(records) > 0 {
			pipe.HSet(ctx, r.recordsKey(), records)
		}
		if len(lists) > 0 {
			pipe.HSet(ctx, r.listsKey(), lists)
		}
		if len(snap.DeletedRecords) > 0 {
			pipe.HDel(ctx, r.recordsKey(), snap.DeletedRecords...)
		}
		if len(snap.DeletedLists) > 0 {
			pipe.HDel(ctx, r.listsKey(), snap.DeletedLists...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

// Load reads every stored record and list.
func (r *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rawLists, err := r.client.HGetAll(ctx, r.listsKey()).Result()
	if err != nil {
		return snap, fmt.Errorf("redis load lists: %w", err)
	}
	for id, raw := range rawLists {
		var l List
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return snap, fmt.Errorf("decode list %s: %w", id, err)
		}
		snap.Lists = append(snap.Lists, l)
	}
	sort.Slice(snap.Lists, func(i, j int) bool { return snap.Lists[i].CreatedAt.Before(snap.Lists[j].CreatedAt) })

	rawRecords, err := r.client.HGetAll(ctx, r.recordsKey()).Result()
	if err != nil {
		return snap, fmt.Errorf("redis load records: %w", err)
	}
	for id, raw := range rawRecords {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return snap, fmt.Errorf("decode record %s: %w", id, err)
		}
		snap.Records = append(snap.Records, rec)
	}
	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].CreatedAt.Before(snap.Records[j].CreatedAt)
	})
	return snap, nil
}

// AppendMessage pushes a message onto its conversation log unless the id was seen.
func (r *RedisStore) AppendMessage(ctx context.Context, m *Message) error {
	if m.ScopeID == "" {
		return fmt.Errorf("append message: scope id required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	added, err := r.client.SAdd(ctx, r.messageIDsKey(m.ScopeID), m.ID).Result()
	if err != nil {
		return fmt.Errorf("redis append message: %w", err)
	}
	if added == 0 {
		return nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.messagesKey(m.ScopeID), data)
		pipe.ZAdd(ctx, r.scopesKey(), redis.Z{Score: float64(m.CreatedAt.UnixMilli()), Member: m.ScopeID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append message: %w", err)
	}
	return nil
}

// MessagesForScope returns a conversation's messages in arrival order.
func (r *RedisStore) MessagesForScope(ctx context.Context, scopeID string) ([]Message, error) {
	return r.messageRange(ctx, scopeID, 0, -1)
}

// RecentMessages returns the last n messages of a conversation, oldest first.
// n <= 0 returns the whole log.
func (r *RedisStore) RecentMessages(ctx context.Context, scopeID string, n int) ([]Message, error) {
	if n <= 0 {
		return r.MessagesForScope(ctx, scopeID)
	}
	return r.messageRange(ctx, scopeID, int64(-n), -1)
}

func (r *RedisStore) messageRange(ctx context.Context, scopeID string, start, stop int64) ([]Message, error) {
	raw, err := r.client.LRange(ctx, r.messagesKey(scopeID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis messages for scope: %w", err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Scopes returns conversation ids ordered by latest activity.
func (r *RedisStore) Scopes(ctx context.Context) ([]string, error) {
	scopes, err := r.client.ZRevRange(ctx, r.scopesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scopes: %w", err)
	}
	return scopes, nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
