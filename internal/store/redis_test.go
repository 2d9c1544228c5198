package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRedisBadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not-a-url", "")
	assert.Error(t, err)
}

func TestRedisKeys(t *testing.T) {
	r := NewRedisStore(nil, "")
	assert.Equal(t, "recall:records", r.recordsKey())
	assert.Equal(t, "recall:lists", r.listsKey())
	assert.Equal(t, "recall:messages:conv-1", r.messagesKey("conv-1"))
}

// testRedis connects to RECALL_TEST_REDIS_URL, skipping when unset.
func testRedis(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("RECALL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("RECALL_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	prefix := "recall-test-" + time.Now().Format("150405.000000")
	r, err := OpenRedis(ctx, url, prefix)
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := r.client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			r.client.Del(ctx, keys...)
		}
		r.Close()
	})
	return r
}

func TestRedisSaveLoad(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()

	a := sampleRecord("a", TierLongTerm, "default", "likes dark mode")
	b := sampleRecord("b", TierLongTerm, "default", "name is Alex")
	require.NoError(t, r.Save(ctx, Snapshot{Records: []Record{a, b}, Lists: []List{{ID: "default", Name: "Default", IsActive: true}}}, false))
	require.NoError(t, r.Save(ctx, Snapshot{DeletedRecords: []string{"b"}}, false))

	snap, err := r.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "likes dark mode", snap.Records[0].Content)
	require.Len(t, snap.Lists, 1)

	require.NoError(t, r.Save(ctx, Snapshot{}, true))
	snap, err = r.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
}

func TestRedisMessages(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()

	m := &Message{ID: "m1", ScopeID: "conv-1", Role: "user", Content: "I like dark mode"}
	require.NoError(t, r.AppendMessage(ctx, m))
	require.NoError(t, r.AppendMessage(ctx, m))

	msgs, err := r.MessagesForScope(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	require.NoError(t, r.AppendMessage(ctx, &Message{ID: "m2", ScopeID: "conv-1", Role: "user", Content: "My name is Alex"}))
	recent, err := r.RecentMessages(ctx, "conv-1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "m2", recent[0].ID)

	scopes, err := r.Scopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-1"}, scopes)
}
