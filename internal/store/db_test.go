package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	assert.Equal(t, ":memory:", db.Path)
}

func TestOpenFileAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "recall.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk, timeout int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 5000, timeout)
}

func TestSchemaVersion(t *testing.T) {
	db := testDB(t)
	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"schema_versions", "mem_records", "mem_vectors", "mem_lists", "messages"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q", table)
	}
}

func TestRecordConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`INSERT INTO mem_records (id, content, tier, scope_key, created_at) VALUES ('a', 'fact', 'long_term', 'l1', 1000)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO mem_records (id, content, tier, scope_key, created_at) VALUES ('b', 'fact', 'forever', 'l1', 1000)`)
	assert.Error(t, err, "invalid tier must be rejected")

	_, err = db.Exec(`INSERT INTO mem_records (id, content, tier, scope_key, created_at) VALUES ('c', '', 'short_term', 'c1', 1000)`)
	assert.Error(t, err, "empty content must be rejected")
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	original := []float64{1.0, -0.5, 0.333, math.Pi, 0.0}
	assert.Equal(t, original, decodeEmbedding(encodeEmbedding(original)))
}

func sampleRecord(id string, tier Tier, scope, content string) Record {
	return Record{
		ID:          id,
		Content:     content,
		CreatedAt:   time.UnixMilli(time.Now().UnixMilli()),
		Tier:        tier,
		ScopeKey:    scope,
		Importance:  0.5,
		DecayFactor: 1,
		Freshness:   1,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	accessed := time.UnixMilli(time.Now().UnixMilli())
	rec := sampleRecord("r1", TierLongTerm, "default", "likes dark mode")
	rec.Category = "preference"
	rec.Keywords = []string{"dark", "mode"}
	rec.Embedding = []float64{0.1, 0.2, 0.3}
	rec.EmbeddingModel = "test"
	rec.AnalyzedMessageIDs = []string{"m1", "m2"}
	rec.LastMessageID = "m2"
	rec.AccessCount = 3
	rec.LastAccessedAt = &accessed

	list := List{ID: "default", Name: "Default", IsActive: true, CreatedAt: time.UnixMilli(1000)}

	require.NoError(t, db.Save(ctx, Snapshot{Records: []Record{rec}, Lists: []List{list}}, false))

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Lists, 1)
	assert.Equal(t, list, snap.Lists[0])
	require.Len(t, snap.Records, 1)

	got := snap.Records[0]
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, TierLongTerm, got.Tier)
	assert.Equal(t, []string{"m1", "m2"}, got.AnalyzedMessageIDs)
	assert.Equal(t, "m2", got.LastMessageID)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, "test", got.EmbeddingModel)
	assert.Equal(t, 3, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, accessed.Equal(*got.LastAccessedAt))
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestSaveUpsertAndDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := sampleRecord("a", TierShortTerm, "conv-1", "name is Alex")
	b := sampleRecord("b", TierShortTerm, "conv-1", "works in finance")
	require.NoError(t, db.Save(ctx, Snapshot{Records: []Record{a, b}}, false))

	a.AccessCount = 7
	require.NoError(t, db.Save(ctx, Snapshot{Records: []Record{a}, DeletedRecords: []string{"b"}}, false))

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "a", snap.Records[0].ID)
	assert.Equal(t, 7, snap.Records[0].AccessCount)
}

func TestSaveForceReplacesState(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	old := sampleRecord("old", TierAssistant, "asst-1", "stale fact")
	old.Embedding = []float64{1, 0}
	require.NoError(t, db.Save(ctx, Snapshot{Records: []Record{old}}, false))

	fresh := sampleRecord("new", TierAssistant, "asst-1", "fresh fact")
	require.NoError(t, db.Save(ctx, Snapshot{Records: []Record{fresh}}, true))

	snap, err := db.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "new", snap.Records[0].ID)

	var vectors int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM mem_vectors WHERE record_id = 'old'").Scan(&vectors))
	assert.Zero(t, vectors, "force save must drop vectors of removed records")
}

func TestCountRecords(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, db.Save(ctx, Snapshot{Records: []Record{
		sampleRecord("1", TierLongTerm, "l", "one"),
		sampleRecord("2", TierLongTerm, "l", "two"),
		sampleRecord("3", TierShortTerm, "c", "three"),
	}}, false))

	counts, err := db.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[TierLongTerm])
	assert.Equal(t, 1, counts[TierShortTerm])
	assert.Len(t, counts, len(Tiers), "every tier is reported")
	assert.Equal(t, 0, counts[TierAssistant])
}

func TestParseTier(t *testing.T) {
	for in, want := range map[string]Tier{
		"long_term": TierLongTerm, "short": TierShortTerm, "conversation": TierShortTerm, "assistant": TierAssistant,
	} {
		got, err := ParseTier(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseTier("forever")
	assert.Error(t, err)
}

func TestRecordClone(t *testing.T) {
	r := sampleRecord("x", TierLongTerm, "l", "fact")
	r.AnalyzedMessageIDs = []string{"m1"}
	c := r.Clone()
	c.AnalyzedMessageIDs[0] = "changed"
	assert.Equal(t, "m1", r.AnalyzedMessageIDs[0])
}
