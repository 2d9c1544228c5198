package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"

	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
	"github.com/lazypower/recall/internal/transcript"
)

// MessageLog is the read-only source of conversation history.
type MessageLog interface {
	MessagesForScope(ctx context.Context, scopeID string) ([]store.Message, error)
}

// ScopeRef names one analysis target.
type ScopeRef struct {
	Tier store.Tier `json:"tier"`
	Key  string     `json:"key"`
}

func (s ScopeRef) String() string { return string(s.Tier) + ":" + s.Key }

// Outcome classifies one analysis run.
type Outcome int

const (
	OutcomeNoop      Outcome = iota // no unanalyzed messages
	OutcomeSkipped                  // in progress elsewhere, or delta unchanged since an empty run
	OutcomeEmpty                    // extraction ran, nothing new
	OutcomeCommitted                // at least one record created
	OutcomeFailed                   // extraction, parse or cancellation failure; nothing committed
)

func (o Outcome) String() string {
	return [...]string{"noop", "skipped", "empty", "committed", "failed"}[o]
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// attempted reports whether the run reached the model.
func (o Outcome) attempted() bool {
	return o == OutcomeEmpty || o == OutcomeCommitted || o == OutcomeFailed
}

// Result reports one analysis run. Err is informational: failures are
// contained and never leave the watermark half-advanced.
type Result struct {
	Target    ScopeRef       `json:"target"`
	Outcome   Outcome        `json:"outcome"`
	DeltaSize int            `json:"delta_size"`
	Created   []store.Record `json:"created,omitempty"`
	Err       error          `json:"-"`
}

// tierProfile parameterizes the pipeline per tier.
type tierProfile struct {
	focus  string
	format llm.Format
}

var profiles = map[store.Tier]tierProfile{
	store.TierLongTerm: {
		focus:  "stable, long-lived facts about the user: identity, preferences, work, interests, goals and relationships",
		format: llm.FormatCategory,
	},
	store.TierShortTerm: {
		focus:  "facts that matter for the rest of this conversation: its task, constraints, decisions and open questions",
		format: llm.FormatBullet,
	},
	store.TierAssistant: {
		focus:  "what this assistant should remember about working with the user: instructions, style and recurring context",
		format: llm.FormatBullet,
	},
}

// PipelineConfig tunes extraction.
type PipelineConfig struct {
	Model          string
	KnownFacts     int
	MaxFactChars   int
	DedupRatio     float64
	SemanticDedup  float64
	Timeout        time.Duration
	EmptyDeltaMemo bool
	RatePerMinute  float64
}

// Pipeline turns conversation deltas into records.
type Pipeline struct {
	store    *MemoryStore
	messages MessageLog
	client   llm.Client
	index    *VectorIndex
	locks    *LockTable
	limiter  *rate.Limiter
	adaptive *AdaptiveInterval
	cfg      PipelineConfig

	memoMu sync.Mutex
	memo   map[ScopeRef]string
}

// NewPipeline wires a pipeline. client may be nil, in which case every run fails
// with TagExtractionFailed; index may be nil to skip the semantic dedup pass.
func NewPipeline(s *MemoryStore, log MessageLog, client llm.Client, idx *VectorIndex, locks *LockTable, adaptive *AdaptiveInterval, cfg PipelineConfig) *Pipeline {
	if cfg.KnownFacts <= 0 {
		cfg.KnownFacts = 50
	}
	if cfg.DedupRatio <= 0 {
		cfg.DedupRatio = 0.8
	}
	if adaptive == nil {
		adaptive = NewAdaptiveInterval(AdaptiveConfig{Initial: time.Minute, Min: 30 * time.Second, Max: 30 * time.Minute, Low: 0.3, High: 0.7})
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60)
	}
	return &Pipeline{
		store:    s,
		messages: log,
		client:   client,
		index:    idx,
		locks:    locks,
		limiter:  rate.NewLimiter(limit, 1),
		adaptive: adaptive,
		cfg:      cfg,
		memo:     make(map[ScopeRef]string),
	}
}

// Adaptive returns the pipeline's interval tuner.
func (p *Pipeline) Adaptive() *AdaptiveInterval { return p.adaptive }

// ClearMemo forgets the empty-delta fingerprint of a target.
func (p *Pipeline) ClearMemo(target ScopeRef) {
	p.memoMu.Lock()
	delete(p.memo, target)
	p.memoMu.Unlock()
}

func (p *Pipeline) memoHit(target ScopeRef, fp string) bool {
	if !p.cfg.EmptyDeltaMemo {
		return false
	}
	p.memoMu.Lock()
	defer p.memoMu.Unlock()
	return p.memo[target] == fp
}

func (p *Pipeline) remember(target ScopeRef, fp string) {
	if !p.cfg.EmptyDeltaMemo {
		return
	}
	p.memoMu.Lock()
	p.memo[target] = fp
	p.memoMu.Unlock()
}

// watermarkScope is the scope whose watermarks define the delta. Long-term
// facts from one conversation may land in any list, so the whole tier counts.
func watermarkScope(target ScopeRef) string {
	if target.Tier == store.TierLongTerm {
		return ""
	}
	return target.Key
}

// Delta returns the messages of a conversation not yet folded into any record of the target.
func (p *Pipeline) Delta(ctx context.Context, target ScopeRef, conversationID string) ([]store.Message, error) {
	msgs, err := p.messages.MessagesForScope(ctx, conversationID)
	if err != nil {
		return nil, goerr.Wrap(err, "read message log", goerr.T(TagExtractionFailed), goerr.V("conversation", conversationID))
	}
	seen := p.store.AnalyzedMessageIDs(target.Tier, watermarkScope(target))

	var delta []store.Message
	for _, m := range msgs {
		if seen[m.ID] || strings.TrimSpace(m.Content) == "" {
			continue
		}
		delta = append(delta, m)
	}
	return delta, nil
}

func fingerprint(msgs []store.Message) string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return strings.Join(ids, "\x00")
}

// Analyze runs one incremental extraction for target over the messages of
// conversationID. It never returns an error; failures are reported in Result.
func (p *Pipeline) Analyze(ctx context.Context, target ScopeRef, conversationID string) Result {
	res := Result{Target: target}

	if err := checkScope(target.Tier, target.Key); err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if strings.TrimSpace(conversationID) == "" {
		res.Outcome, res.Err = OutcomeFailed, invalidInput("empty conversation id")
		return res
	}

	release, ok := p.locks.TryAcquire("analysis:" + target.String())
	if !ok {
		logging.Debug().Str("target", target.String()).Msg("analysis: already in progress")
		res.Outcome = OutcomeSkipped
		return res
	}
	defer release()

	delta, err := p.Delta(ctx, target, conversationID)
	if err != nil {
		return p.fail(res, err)
	}
	res.DeltaSize = len(delta)
	if len(delta) == 0 {
		res.Outcome = OutcomeNoop
		return res
	}

	fp := fingerprint(delta)
	if p.memoHit(target, fp) {
		res.Outcome = OutcomeSkipped
		return res
	}

	created, parsed, err := p.extract(ctx, target, delta)
	if err != nil {
		return p.fail(res, err)
	}

	res.Created = created
	if len(created) == 0 {
		res.Outcome = OutcomeEmpty
		if parsed != ParseFailed {
			p.remember(target, fp)
		}
		return res
	}
	p.ClearMemo(target)

	res.Outcome = OutcomeCommitted
	logging.Info().Str("target", target.String()).Int("delta", len(delta)).Int("created", len(created)).
		Msg("analysis: committed")
	return res
}

func (p *Pipeline) fail(res Result, err error) Result {
	res.Outcome, res.Err = OutcomeFailed, err
	logging.Warn().Err(err).Str("target", res.Target.String()).Msg("analysis: no records this cycle")
	return res
}

// extract calls the model on a delta and commits the surviving facts. Nothing
// is committed unless every step succeeds.
func (p *Pipeline) extract(ctx context.Context, target ScopeRef, delta []store.Message) ([]store.Record, ParseKind, error) {
	if p.client == nil {
		return nil, ParseFailed, goerr.New("no completion client configured", goerr.T(TagExtractionFailed))
	}

	profile := profiles[target.Tier]
	existing := p.store.Records(target.Tier, target.Key)

	known := make([]string, 0, min(len(existing), p.cfg.KnownFacts))
	for i := len(existing) - 1; i >= 0 && len(known) < p.cfg.KnownFacts; i-- {
		known = append(known, existing[i].Content)
	}
	req := llm.ExtractionRequest{Focus: profile.focus, Format: profile.format, Known: known}
	if profile.format == llm.FormatCategory {
		req.Categories = Categories
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, ParseFailed, goerr.Wrap(err, "extraction rate limit", goerr.T(TagExtractionFailed))
	}

	callCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	resp, err := p.client.GenerateText(callCtx, llm.ExtractionPrompt(req), transcript.CondenseMessages(delta), p.cfg.Model)
	if err != nil {
		return nil, ParseFailed, goerr.Wrap(err, "extraction call", goerr.T(TagExtractionFailed), goerr.V("target", target.String()))
	}
	text := ""
	if resp != nil {
		text = resp.Content
	}

	parsed := ParseExtraction(text, profile.format)
	switch parsed.Kind {
	case ParseNothing:
		return nil, parsed.Kind, nil
	case ParseFailed:
		err := goerr.New("unparseable extraction output", goerr.T(TagParseFailed),
			goerr.V("target", target.String()), goerr.V("lines", strings.Count(text, "\n")+1))
		logging.Warn().Err(err).Msg("analysis: parse failed")
		return nil, parsed.Kind, nil
	case ParseHeuristic:
		logging.Debug().Str("target", target.String()).Msg("analysis: fell back to heuristic parse")
	}

	cands := validateAll(parsed.Facts, p.cfg.MaxFactChars)
	cands = dedupCandidates(cands, existing, p.cfg.DedupRatio)
	cands = semanticDedup(ctx, p.index, cands, existing, p.cfg.SemanticDedup)
	if len(cands) == 0 {
		return nil, parsed.Kind, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, parsed.Kind, goerr.Wrap(err, "analysis cancelled before commit", goerr.T(TagExtractionFailed))
	}

	ids := make([]string, len(delta))
	for i, m := range delta {
		ids[i] = m.ID
	}
	recs := make([]store.Record, 0, len(cands))
	for _, c := range cands {
		recs = append(recs, newRecord(target, c, ids))
	}
	return p.store.Commit(ctx, recs), parsed.Kind, nil
}

func newRecord(target ScopeRef, c Candidate, analyzed []string) store.Record {
	return store.Record{
		ID:                 uuid.NewString(),
		Content:            c.Content,
		Tier:               target.Tier,
		ScopeKey:           target.Key,
		Category:           c.Category,
		Embedding:          c.embedding,
		EmbeddingModel:     c.model,
		Keywords:           extractKeywords(c.Content, 8),
		Entities:           extractEntities(c.Content),
		Importance:         importanceFor(c.Category),
		DecayFactor:        1,
		Freshness:          1,
		AnalyzedMessageIDs: append([]string(nil), analyzed...),
		LastMessageID:      analyzed[len(analyzed)-1],
	}
}

// Summary renders results for logs and the CLI.
func Summary(results []Result) string {
	var parts []string
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%s=%s(%d)", r.Target, r.Outcome, len(r.Created)))
	}
	return strings.Join(parts, " ")
}
