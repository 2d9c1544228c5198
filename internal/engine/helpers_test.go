package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
)

func init() {
	logging.Discard()
}

// bowEmbedder hashes content tokens into a fixed-size bag-of-words vector.
type bowEmbedder struct {
	mu    sync.Mutex
	dims  int
	fail  bool
	calls int
}

func newBOW() *bowEmbedder { return &bowEmbedder{dims: 256} }

func (b *bowEmbedder) Model() string   { return "bow-test" }
func (b *bowEmbedder) Dimensions() int { return b.dims }

func (b *bowEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail {
		return nil, errors.New("embedding backend down")
	}
	vec := make([]float64, b.dims)
	for _, tok := range contentTokens(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%b.dims]++
	}
	normalize(vec)
	return vec, nil
}

func (b *bowEmbedder) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *bowEmbedder) SetFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

// memLog is an in-memory MessageLog.
type memLog struct {
	mu   sync.Mutex
	msgs map[string][]store.Message
	err  error
}

func newMemLog() *memLog { return &memLog{msgs: make(map[string][]store.Message)} }

func (l *memLog) add(scope string, pairs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i+1 < len(pairs); i += 2 {
		n := len(l.msgs[scope])
		l.msgs[scope] = append(l.msgs[scope], store.Message{
			ID:        pairs[i],
			ScopeID:   scope,
			Role:      "user",
			Content:   pairs[i+1],
			CreatedAt: base.Add(time.Duration(n) * time.Minute),
		})
	}
}

func (l *memLog) MessagesForScope(_ context.Context, scope string) ([]store.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return append([]store.Message(nil), l.msgs[scope]...), nil
}

// failingPersister always fails Save.
type failingPersister struct{}

func (failingPersister) Save(context.Context, store.Snapshot, bool) error {
	return errors.New("disk full")
}

func (failingPersister) Load(context.Context) (store.Snapshot, error) { return store.Snapshot{}, nil }

// flakyPersister fails the next failures saves, then delegates to Persister.
type flakyPersister struct {
	Persister
	failures atomic.Int32
}

func (f *flakyPersister) Save(ctx context.Context, snap store.Snapshot, force bool) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Persister.Save(ctx, snap, force)
}

func testSQLite(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testIndex(t *testing.T, emb Embedder) *VectorIndex {
	t.Helper()
	idx, err := NewVectorIndex(emb, 1000)
	require.NoError(t, err)
	t.Cleanup(idx.Close)
	return idx
}

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(nil, "default", 0.8)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func rec(id string, tier store.Tier, scope, content string) store.Record {
	return store.Record{
		ID:          id,
		Content:     content,
		Tier:        tier,
		ScopeKey:    scope,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Importance:  0.5,
		DecayFactor: 1,
		Freshness:   1,
	}
}

func contents(recs []store.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Content
	}
	return out
}
