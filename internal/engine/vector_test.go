package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/store"
)

func TestVectorIndexCachesEmbeddings(t *testing.T) {
	emb := newBOW()
	idx := testIndex(t, emb)
	ctx := context.Background()

	a, err := idx.Embed(ctx, "likes dark mode")
	require.NoError(t, err)
	b, err := idx.Embed(ctx, "  likes dark mode ")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, emb.Calls(), "second call served from cache")
}

func TestVectorIndexBlankText(t *testing.T) {
	emb := newBOW()
	idx := testIndex(t, emb)

	vec, err := idx.Embed(context.Background(), "   ")
	assert.NoError(t, err)
	assert.Nil(t, vec)
	assert.Equal(t, 0, emb.Calls())
}

func TestVectorIndexWithoutEmbedder(t *testing.T) {
	idx := testIndex(t, nil)
	assert.False(t, idx.Available())
	assert.Empty(t, idx.Model())

	_, err := idx.Embed(context.Background(), "anything")
	assert.True(t, goerr.HasTag(err, TagEmbeddingUnavailable))

	_, err = idx.TopK(context.Background(), "anything", nil, 5, 0)
	assert.True(t, goerr.HasTag(err, TagEmbeddingUnavailable))
}

func TestVectorIndexEmbedFailureTagged(t *testing.T) {
	emb := newBOW()
	emb.SetFail(true)
	idx := testIndex(t, emb)

	_, err := idx.Embed(context.Background(), "likes dark mode")
	require.Error(t, err)
	assert.True(t, goerr.HasTag(err, TagEmbeddingUnavailable))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.5, Similarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 0.0, Similarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Similarity(nil, []float64{1}))
	assert.Equal(t, 0.0, Similarity([]float64{1, 0}, []float64{1, 0, 0}))
}

func TestTopKRanksAndEmbedsLazily(t *testing.T) {
	emb := newBOW()
	idx := testIndex(t, emb)

	var (
		mu       sync.Mutex
		embedded = map[string]string{}
	)
	idx.OnEmbed = func(id string, vec []float64, model string) {
		mu.Lock()
		defer mu.Unlock()
		embedded[id] = model
	}

	stale := rec("c", store.TierLongTerm, "default", "enjoys mountain hiking")
	stale.Embedding = []float64{1, 2, 3}
	stale.EmbeddingModel = "old-model"

	candidates := []store.Record{
		rec("a", store.TierLongTerm, "default", "likes dark mode editors"),
		rec("b", store.TierLongTerm, "default", "name is Alex"),
		stale,
	}

	matches, err := idx.TopK(context.Background(), "dark mode editors", candidates, 2, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Record.ID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
	assert.Equal(t, "bow-test", matches[0].Record.EmbeddingModel)

	assert.Equal(t, map[string]string{"a": "bow-test", "b": "bow-test", "c": "bow-test"}, embedded)
	assert.Equal(t, []float64{1, 2, 3}, candidates[2].Embedding, "caller's slice untouched")
}

func TestTopKThreshold(t *testing.T) {
	idx := testIndex(t, newBOW())
	candidates := []store.Record{
		rec("a", store.TierLongTerm, "default", "likes dark mode"),
		rec("b", store.TierLongTerm, "default", "name is Alex"),
	}

	matches, err := idx.TopK(context.Background(), "likes dark mode", candidates, 10, 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Record.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{3, 4}, []float64{6, 8}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}
