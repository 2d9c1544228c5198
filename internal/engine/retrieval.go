package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
)

// Match reasons.
const (
	ReasonSemantic         = "semantic match"
	ReasonSameConversation = "same conversation"
	ReasonTopic            = "topic match"
)

// Recommendation is one ranked record with its provenance.
type Recommendation struct {
	Record     store.Record `json:"record"`
	Tier       store.Tier   `json:"tier"`
	Score      float64      `json:"score"`
	Similarity float64      `json:"similarity"`
	Reason     string       `json:"reason,omitempty"`
}

// Conversation identifies the live conversation retrieval is framed by.
type Conversation struct {
	ID          string `json:"id"`
	AssistantID string `json:"assistant_id,omitempty"`
}

// RetrieverConfig tunes retrieval.
type RetrieverConfig struct {
	Threshold      float64
	TierK          int
	RecentMessages int
	DefaultLimit   int
	ExpandQueries  bool
	Model          string
}

// Retriever ranks records against a conversation or query.
type Retriever struct {
	store   *MemoryStore
	index   *VectorIndex
	weights Weights
	client  llm.Client
	cfg     RetrieverConfig
}

// NewRetriever wires a retriever. client is only used for query expansion and may be nil.
func NewRetriever(s *MemoryStore, idx *VectorIndex, w Weights, client llm.Client, cfg RetrieverConfig) *Retriever {
	if cfg.TierK <= 0 {
		cfg.TierK = 20
	}
	if cfg.RecentMessages <= 0 {
		cfg.RecentMessages = 3
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	return &Retriever{store: s, index: idx, weights: w, client: client, cfg: cfg}
}

// BuildQuery joins the last n non-empty message contents, oldest first.
func BuildQuery(msgs []store.Message, n int) string {
	var picked []string
	for i := len(msgs) - 1; i >= 0 && len(picked) < n; i-- {
		if c := strings.TrimSpace(msgs[i].Content); c != "" {
			picked = append(picked, c)
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return strings.Join(picked, "\n")
}

type candidateSet struct {
	tier    store.Tier
	records []store.Record
}

// Recommend ranks records for a live conversation: active long-term lists, the
// conversation's short-term facts and the assistant's facts.
func (r *Retriever) Recommend(ctx context.Context, conv Conversation, recent []store.Message, limit int) []Recommendation {
	query := BuildQuery(recent, r.cfg.RecentMessages)
	if query == "" {
		return nil
	}

	sets := []candidateSet{
		{store.TierLongTerm, r.store.ActiveLongTerm()},
		{store.TierShortTerm, r.store.Records(store.TierShortTerm, conv.ID)},
	}
	if conv.AssistantID != "" {
		sets = append(sets, candidateSet{store.TierAssistant, r.store.Records(store.TierAssistant, conv.AssistantID)})
	}
	return r.search(ctx, query, sets, NewScoreContext(query, conv.ID, conv.AssistantID), limit)
}

// RecommendForQuery ranks every retrievable record against an explicit query.
func (r *Retriever) RecommendForQuery(ctx context.Context, query string, limit int) []Recommendation {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	query = r.expand(ctx, query)

	sets := []candidateSet{
		{store.TierLongTerm, r.store.ActiveLongTerm()},
		{store.TierShortTerm, r.store.Records(store.TierShortTerm, "")},
		{store.TierAssistant, r.store.Records(store.TierAssistant, "")},
	}
	return r.search(ctx, query, sets, NewScoreContext(query), limit)
}

// expand appends model-suggested phrasings to the query. Failures keep the original.
func (r *Retriever) expand(ctx context.Context, query string) string {
	if !r.cfg.ExpandQueries || r.client == nil {
		return query
	}
	resp, err := r.client.GenerateText(ctx, llm.QueryExpansionPrompt(), query, r.cfg.Model)
	if err != nil || resp == nil {
		logging.Debug().Err(err).Msg("retrieval: query expansion skipped")
		return query
	}
	lines := llm.ParseLines(resp.Content)
	if len(lines) == 0 {
		return query
	}
	return query + "\n" + strings.Join(lines, "\n")
}

func (r *Retriever) search(ctx context.Context, query string, sets []candidateSet, sc ScoreContext, limit int) []Recommendation {
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}

	matches, semantic, err := r.semanticMatches(ctx, query, sets)
	if err != nil {
		if !goerr.HasTag(err, TagEmbeddingUnavailable) || ctx.Err() != nil {
			logging.Warn().Err(err).Msg("retrieval: search failed")
			return nil
		}
		logging.Warn().Err(err).Msg("retrieval: embeddings unavailable, using keyword match")
		matches = r.keywordMatches(sc.QueryKeywords, sets)
	}

	scored := r.weights.ScoreAll(matches, sc)
	out := make([]Recommendation, 0, limit)
	seenID := make(map[string]bool)
	var seenContent []string
	for _, s := range scored {
		if len(out) >= limit {
			break
		}
		norm := normalizeFact(s.Record.Content)
		if seenID[s.Record.ID] || containsString(seenContent, norm) {
			continue
		}
		seenID[s.Record.ID] = true
		seenContent = append(seenContent, norm)
		out = append(out, Recommendation{
			Record:     s.Record,
			Tier:       s.Record.Tier,
			Score:      s.Score,
			Similarity: s.Similarity,
			Reason:     reasonFor(s, semantic),
		})
	}

	if len(out) > 0 {
		ids := make([]string, len(out))
		for i, rec := range out {
			ids[i] = rec.Record.ID
		}
		r.store.Touch(ctx, ids)
	}
	return out
}

// semanticMatches queries each tier in parallel.
func (r *Retriever) semanticMatches(ctx context.Context, query string, sets []candidateSet) ([]Match, bool, error) {
	if r.index == nil || !r.index.Available() {
		return nil, false, ErrNoEmbedder
	}

	results := make([][]Match, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	for i, set := range sets {
		if len(set.records) == 0 {
			continue
		}
		i, set := i, set
		g.Go(func() error {
			m, err := r.index.TopK(gctx, query, set.records, r.cfg.TierK, r.cfg.Threshold)
			if err != nil {
				return goerr.Wrap(err, "tier search", goerr.V("tier", string(set.tier)))
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	var all []Match
	for _, m := range results {
		all = append(all, m...)
	}
	return all, true, nil
}

// keywordMatches scores each record by the fraction of query keywords it contains.
func (r *Retriever) keywordMatches(query []string, sets []candidateSet) []Match {
	if len(query) == 0 {
		return nil
	}
	var all []Match
	for _, set := range sets {
		var tier []Match
		for _, rec := range set.records {
			n := keywordMatches(query, rec.Keywords, rec.Content)
			if n == 0 {
				continue
			}
			tier = append(tier, Match{Record: rec, Similarity: float64(n) / float64(len(query))})
		}
		sort.SliceStable(tier, func(i, j int) bool { return tier[i].Similarity > tier[j].Similarity })
		if len(tier) > r.cfg.TierK {
			tier = tier[:r.cfg.TierK]
		}
		all = append(all, tier...)
	}
	return all
}

func reasonFor(s Scored, semantic bool) string {
	switch {
	case !semantic:
		return ReasonTopic
	case s.ScopeMatch && s.Record.Tier == store.TierShortTerm:
		return ReasonSameConversation
	}
	return ReasonSemantic
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
