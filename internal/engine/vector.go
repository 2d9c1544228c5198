package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
)

// Match is a record with its remapped similarity to a query.
type Match struct {
	Record     store.Record
	Similarity float64
}

// VectorIndex embeds text through an Embedder, caches vectors per (model, text)
// and answers top-K similarity queries over candidate records.
type VectorIndex struct {
	embedder  Embedder
	cache     *ristretto.Cache
	closeOnce sync.Once

	// OnEmbed is called when a candidate record had to be (re)embedded so the
	// owner can persist the vector.
	OnEmbed func(id string, vec []float64, model string)
}

// NewVectorIndex creates an index. emb may be nil, in which case every
// operation that needs a vector fails with TagEmbeddingUnavailable.
func NewVectorIndex(emb Embedder, cacheItems int64) (*VectorIndex, error) {
	if cacheItems <= 0 {
		cacheItems = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheItems * 10,
		MaxCost:     cacheItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "create embedding cache")
	}
	return &VectorIndex{embedder: emb, cache: cache}, nil
}

// Available reports whether an embedder is configured.
func (v *VectorIndex) Available() bool { return v.embedder != nil }

// Model returns the embedder's model id, or "" without one.
func (v *VectorIndex) Model() string {
	if v.embedder == nil {
		return ""
	}
	return v.embedder.Model()
}

// Close releases the cache. Later calls are no-ops.
func (v *VectorIndex) Close() { v.closeOnce.Do(v.cache.Close) }

func cacheKey(model, text string) string { return model + "\x00" + text }

// Embed returns the vector for text. Blank text yields (nil, nil).
func (v *VectorIndex) Embed(ctx context.Context, text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if v.embedder == nil {
		return nil, ErrNoEmbedder
	}

	key := cacheKey(v.embedder.Model(), text)
	if cached, ok := v.cache.Get(key); ok {
		return cached.([]float64), nil
	}

	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "embed text", goerr.T(TagEmbeddingUnavailable), goerr.V("model", v.embedder.Model()))
	}
	if v.cache.Set(key, vec, 1) {
		v.cache.Wait()
	}
	return vec, nil
}

// Similarity is cosine similarity remapped from [-1,1] to [0,1]. Absent or
// mismatched vectors score 0.
func Similarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return (CosineSimilarity(a, b) + 1) / 2
}

// TopK embeds query, makes sure every candidate has a vector for the current
// model, and returns candidates scoring at least threshold, best first, at most k.
// Candidates that fail to embed are skipped.
func (v *VectorIndex) TopK(ctx context.Context, query string, candidates []store.Record, k int, threshold float64) ([]Match, error) {
	if v.embedder == nil {
		return nil, ErrNoEmbedder
	}
	qvec, err := v.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if qvec == nil {
		return nil, nil
	}

	model := v.embedder.Model()
	var out []Match
	for _, rec := range candidates {
		vec := rec.Embedding
		if len(vec) == 0 || rec.EmbeddingModel != model {
			vec, err = v.Embed(ctx, rec.Content)
			if err != nil {
				if ctx.Err() != nil {
					return nil, goerr.Wrap(ctx.Err(), "top-k cancelled", goerr.T(TagEmbeddingUnavailable))
				}
				logging.Debug().Err(err).Str("id", rec.ID).Msg("vector: skipping candidate")
				continue
			}
			if vec == nil {
				continue
			}
			rec.Embedding = vec
			rec.EmbeddingModel = model
			if v.OnEmbed != nil {
				v.OnEmbed(rec.ID, vec, model)
			}
		}

		score := Similarity(qvec, vec)
		if score >= threshold {
			out = append(out, Match{Record: rec, Similarity: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}
