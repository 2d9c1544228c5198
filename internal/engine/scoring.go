package engine

import (
	"math"
	"sort"

	"github.com/lazypower/recall/internal/store"
)

// Weights are the per-tier freshness multipliers.
type Weights struct {
	FreshnessLongTerm  float64
	FreshnessShortTerm float64
	FreshnessAssistant float64
}

// DefaultWeights returns the stock freshness weights.
func DefaultWeights() Weights {
	return Weights{FreshnessLongTerm: 0.3, FreshnessShortTerm: 2.0, FreshnessAssistant: 1.5}
}

func (w Weights) freshness(t store.Tier) float64 {
	switch t {
	case store.TierShortTerm:
		return w.FreshnessShortTerm
	case store.TierAssistant:
		return w.FreshnessAssistant
	default:
		return w.FreshnessLongTerm
	}
}

// ScoreContext carries the query features a score depends on.
type ScoreContext struct {
	// ScopeKeys are the scopes of the active conversation (conversation id,
	// assistant id). A record in one of them gets the scope boost.
	ScopeKeys     map[string]bool
	QueryKeywords []string
}

// NewScoreContext builds a context from scope keys and query text.
func NewScoreContext(query string, scopes ...string) ScoreContext {
	sc := ScoreContext{ScopeKeys: make(map[string]bool), QueryKeywords: contentTokens(query)}
	for _, s := range scopes {
		if s != "" {
			sc.ScopeKeys[s] = true
		}
	}
	return sc
}

// Scored is a record with its base similarity and adjusted score.
type Scored struct {
	Record         store.Record
	Similarity     float64
	Score          float64
	KeywordMatches int
	ScopeMatch     bool
}

// Adjust applies importance, freshness, decay, scope, access and keyword
// factors to a base similarity. It reads r and never modifies it.
func (w Weights) Adjust(s float64, r store.Record, sc ScoreContext) Scored {
	decay := r.DecayFactor
	if decay <= 0 || decay > 1 {
		decay = 1
	}
	importance := clamp01(r.Importance)
	freshness := clamp01(r.Freshness)

	scopeMatch := sc.ScopeKeys[r.ScopeKey]
	kw := keywordMatches(sc.QueryKeywords, r.Keywords, r.Content)

	adjusted := s *
		(1 + importance*0.5) *
		(1 + freshness*w.freshness(r.Tier)) *
		decay
	if scopeMatch {
		adjusted *= 1.2
	}
	adjusted *= 1 + math.Min(float64(r.AccessCount)/10, 0.2)
	adjusted *= 1 + math.Min(0.1*float64(kw), 0.3)

	return Scored{Record: r, Similarity: s, Score: adjusted, KeywordMatches: kw, ScopeMatch: scopeMatch}
}

// Rank sorts by score descending, then newer createdAt, then id for a total order.
func Rank(items []Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.After(b.Record.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
}

// ScoreAll adjusts and ranks matches in one step.
func (w Weights) ScoreAll(matches []Match, sc ScoreContext) []Scored {
	out := make([]Scored, 0, len(matches))
	for _, m := range matches {
		out = append(out, w.Adjust(m.Similarity, m.Record, sc))
	}
	Rank(out)
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
