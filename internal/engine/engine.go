package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/logging"
	"github.com/lazypower/recall/internal/store"
)

// Scheduler task names.
const (
	TaskRefresh       = "refresh"
	TaskAnalysis      = "analysis"
	TaskAutoRecommend = "auto-recommend"
)

// Engine wires the memory components together and exposes the API the chat
// pipeline consumes.
type Engine struct {
	Store     *MemoryStore
	Index     *VectorIndex
	Pipeline  *Pipeline
	Retriever *Retriever
	Assembler *Assembler
	Scheduler *Scheduler

	backend store.Backend
	cfg     config.Config
	decay   DecayPolicy
	now     func() time.Time

	mu          sync.Mutex
	convs       map[string]*tracked
	recCache    map[string]cachedRecs
	lastRefresh time.Time
	cancel      context.CancelFunc
}

type tracked struct {
	conv       Conversation
	lastActive time.Time
}

type cachedRecs struct {
	recs []Recommendation
	at   time.Time
}

// New loads memory state from backend and wires every component. client and
// emb may be nil; the engine then runs without extraction or without
// semantic search respectively.
func New(ctx context.Context, backend store.Backend, client llm.Client, emb Embedder, cfg config.Config) (*Engine, error) {
	idx, err := NewVectorIndex(emb, cfg.Embedding.CacheItems)
	if err != nil {
		return nil, err
	}

	mem := cfg.Memory
	ms := NewMemoryStore(backend, mem.DefaultList, mem.DedupRatio)
	if err := ms.Load(ctx); err != nil {
		return nil, err
	}
	idx.OnEmbed = func(id string, vec []float64, model string) {
		ms.SetEmbedding(context.Background(), id, vec, model)
	}

	weights := Weights{
		FreshnessLongTerm:  mem.FreshnessLongTerm,
		FreshnessShortTerm: mem.FreshnessShortTerm,
		FreshnessAssistant: mem.FreshnessAssistant,
	}
	sch := cfg.Scheduler
	adaptive := NewAdaptiveInterval(AdaptiveConfig{
		Initial: sch.AnalysisInitial.Duration,
		Min:     sch.AnalysisMin.Duration,
		Max:     sch.AnalysisMax.Duration,
		Window:  sch.SuccessWindow,
		Low:     sch.LowSuccess,
		High:    sch.HighSuccess,
	})

	e := &Engine{
		Store: ms,
		Index: idx,
		Pipeline: NewPipeline(ms, backend, client, idx, NewLockTable(sch.StaleLock.Duration), adaptive, PipelineConfig{
			Model:          cfg.LLM.Model,
			KnownFacts:     mem.KnownFactsInPrompt,
			MaxFactChars:   mem.MaxFactChars,
			DedupRatio:     mem.DedupRatio,
			SemanticDedup:  mem.SemanticDedup,
			Timeout:        mem.ExtractionTimeout.Duration,
			EmptyDeltaMemo: mem.EmptyDeltaMemo,
			RatePerMinute:  cfg.LLM.RatePerMinute,
		}),
		Retriever: NewRetriever(ms, idx, weights, client, RetrieverConfig{
			Threshold:      mem.RetrievalThreshold,
			TierK:          mem.TierK,
			RecentMessages: mem.RecentMessages,
			DefaultLimit:   mem.DefaultLimit,
			ExpandQueries:  mem.ExpandQueries,
			Model:          cfg.LLM.Model,
		}),
		Assembler: NewAssembler(ms, weights, PromptConfig{
			AssistantCap: mem.AssistantCap,
			ShortTermCap: mem.ShortTermCap,
			LongTermCap:  mem.LongTermCap,
			Position:     mem.PromptPosition,
		}),
		Scheduler: NewScheduler(sch.StaleLock.Duration),
		backend:   backend,
		cfg:       cfg,
		decay: DecayPolicy{
			HalfLife:          mem.DecayHalfLife.Duration,
			Floor:             mem.DecayFloor,
			FreshnessHalfLife: mem.FreshnessHalfLife.Duration,
		},
		now:      time.Now,
		convs:    make(map[string]*tracked),
		recCache: make(map[string]cachedRecs),
	}

	if scopes, err := backend.Scopes(ctx); err != nil {
		logging.Warn().Err(err).Msg("engine: could not restore conversations")
	} else {
		for _, s := range scopes {
			e.convs[s] = &tracked{conv: Conversation{ID: s}}
		}
	}

	e.registerTasks()
	return e, nil
}

func (e *Engine) registerTasks() {
	sch := e.cfg.Scheduler
	e.Scheduler.Add(Task{
		Name:     TaskRefresh,
		Interval: func() time.Duration { return sch.RefreshEvery.Duration },
		Run: func(ctx context.Context) error {
			e.RefreshDecay(ctx, false)
			return nil
		},
	})
	e.Scheduler.Add(Task{
		Name:     TaskAnalysis,
		Interval: e.Pipeline.Adaptive().Interval,
		Run:      e.analyzeActive,
	})
	if sch.AutoRecommend.Duration > 0 {
		e.Scheduler.Add(Task{
			Name:     TaskAutoRecommend,
			Interval: func() time.Duration { return sch.AutoRecommend.Duration },
			Run:      e.refreshRecommendations,
		})
	}
}

// Start runs the background tasks until Stop.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.RefreshDecay(ctx, true)
	e.Scheduler.Start(ctx)
}

// Stop shuts down background tasks and waits for pending saves.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.Scheduler.Stop()
	e.Store.Flush()
	e.Index.Close()
}

// Track marks a conversation active and binds its assistant. An empty
// assistantID keeps the existing binding.
func (e *Engine) Track(conversationID, assistantID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return invalidInput("empty conversation id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.convs[conversationID]
	if !ok {
		t = &tracked{conv: Conversation{ID: conversationID}}
		e.convs[conversationID] = t
	}
	if assistantID != "" {
		t.conv.AssistantID = assistantID
	}
	t.lastActive = e.now()
	return nil
}

// Conversation returns the tracked framing of a conversation id.
func (e *Engine) Conversation(conversationID string) Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.convs[conversationID]; ok {
		return t.conv
	}
	return Conversation{ID: conversationID}
}

// Conversations returns tracked conversations, most recently active first.
func (e *Engine) Conversations() []Conversation {
	e.mu.Lock()
	type entry struct {
		conv Conversation
		at   time.Time
	}
	list := make([]entry, 0, len(e.convs))
	for _, t := range e.convs {
		list = append(list, entry{t.conv, t.lastActive})
	}
	e.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].at.Equal(list[j].at) {
			return list[i].at.After(list[j].at)
		}
		return list[i].conv.ID < list[j].conv.ID
	})
	out := make([]Conversation, len(list))
	for i, l := range list {
		out[i] = l.conv
	}
	return out
}

// AddMessage appends a message to a conversation's log and tracks the conversation.
func (e *Engine) AddMessage(ctx context.Context, conversationID, assistantID string, m store.Message) (store.Message, error) {
	if strings.TrimSpace(m.Content) == "" {
		return store.Message{}, invalidInput("empty message content")
	}
	if err := e.Track(conversationID, assistantID); err != nil {
		return store.Message{}, err
	}
	m.ScopeID = conversationID
	if m.Role == "" {
		m.Role = "user"
	}
	if err := e.backend.AppendMessage(ctx, &m); err != nil {
		return store.Message{}, goerr.Wrap(err, "append message", goerr.T(TagPersistenceFailed), goerr.V("conversation", conversationID))
	}
	e.invalidate(conversationID)
	return m, nil
}

func (e *Engine) invalidate(conversationID string) {
	e.mu.Lock()
	if conversationID == "" {
		e.recCache = make(map[string]cachedRecs)
	} else {
		delete(e.recCache, conversationID)
	}
	e.mu.Unlock()
}

// recent returns the messages a retrieval query is built from.
func (e *Engine) recent(ctx context.Context, conversationID string) []store.Message {
	msgs, err := e.backend.RecentMessages(ctx, conversationID, e.cfg.Memory.RecentMessages)
	if err != nil {
		logging.Warn().Err(err).Str("conversation", conversationID).Msg("engine: read messages failed")
		return nil
	}
	return msgs
}

// Recommend ranks records for a conversation from its most recent messages.
func (e *Engine) Recommend(ctx context.Context, conversationID string, limit int) ([]Recommendation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, invalidInput("empty conversation id")
	}
	conv := e.Conversation(conversationID)
	recs := e.Retriever.Recommend(ctx, conv, e.recent(ctx, conversationID), limit)

	e.mu.Lock()
	e.recCache[conversationID] = cachedRecs{recs: recs, at: e.now()}
	e.mu.Unlock()
	return recs, nil
}

// RecommendForQuery ranks every retrievable record against query.
func (e *Engine) RecommendForQuery(ctx context.Context, query string, limit int) []Recommendation {
	return e.Retriever.RecommendForQuery(ctx, query, limit)
}

func (e *Engine) cached(conversationID string) ([]Recommendation, bool) {
	ttl := e.cfg.Scheduler.AutoRecommend.Duration
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.recCache[conversationID]
	if !ok || ttl <= 0 || e.now().Sub(c.at) >= ttl {
		return nil, false
	}
	return c.recs, true
}

// ApplyToPrompt renders memory for a conversation into basePrompt. With an
// empty conversation id only long-term lists are rendered. It never fails;
// on any trouble the base prompt comes back unchanged or with fewer sections.
func (e *Engine) ApplyToPrompt(ctx context.Context, basePrompt, conversationID string) string {
	return e.Assembler.Apply(basePrompt, e.Sections(ctx, conversationID))
}

// Sections returns the memory sections ApplyToPrompt would render.
func (e *Engine) Sections(ctx context.Context, conversationID string) []Section {
	var (
		conv  Conversation
		recs  []Recommendation
		query string
	)
	if conversationID != "" {
		conv = e.Conversation(conversationID)
		msgs := e.recent(ctx, conversationID)
		query = BuildQuery(msgs, e.cfg.Memory.RecentMessages)

		var ok bool
		if recs, ok = e.cached(conversationID); !ok {
			recs = e.Retriever.Recommend(ctx, conv, msgs, 0)
		}
	}
	return e.Assembler.Sections(conv, recs, query)
}

// AddRecord inserts a fact manually. Long-term records need a known category
// or none; an empty category is classified from the content.
func (e *Engine) AddRecord(ctx context.Context, content string, tier store.Tier, scope, category string) (store.Record, error) {
	if err := checkScope(tier, scope); err != nil {
		return store.Record{}, err
	}

	c, err := validateCandidate(Candidate{Category: category, Content: content}, e.cfg.Memory.MaxFactChars)
	if err != nil {
		return store.Record{}, goerr.Wrap(err, "add record", goerr.T(TagInvalidInput))
	}
	if tier == store.TierLongTerm {
		switch {
		case c.Category == "":
			if cat, ok := classify(c.Content); ok {
				c.Category = cat
			} else {
				c.Category = CategoryOther
			}
		default:
			cat, ok := ResolveCategory(c.Category)
			if !ok {
				return store.Record{}, invalidInput("unknown category", goerr.V("category", c.Category))
			}
			c.Category = cat
		}
	}

	rec, err := e.Store.Add(ctx, store.Record{
		Content:    c.Content,
		Tier:       tier,
		ScopeKey:   scope,
		Category:   c.Category,
		Keywords:   extractKeywords(c.Content, 8),
		Entities:   extractEntities(c.Content),
		Importance: importanceFor(c.Category),
	})
	if err != nil {
		return store.Record{}, err
	}
	e.invalidate("")
	return rec, nil
}

// DeleteRecord removes one record.
func (e *Engine) DeleteRecord(ctx context.Context, id string) error {
	if !e.Store.Delete(ctx, id) {
		return invalidInput("unknown record", goerr.V("id", id))
	}
	e.invalidate("")
	return nil
}

// ResetAnalysisWatermarks clears the analysis markers of a scope so its
// history is analyzed again. Returns the number of records reset.
func (e *Engine) ResetAnalysisWatermarks(ctx context.Context, tier store.Tier, scope string) (int, error) {
	n, err := e.Store.ResetWatermarks(ctx, tier, scope)
	if err != nil {
		return 0, err
	}
	e.Pipeline.ClearMemo(ScopeRef{Tier: tier, Key: scope})
	logging.Info().Str("tier", string(tier)).Str("scope", scope).Int("records", n).Msg("engine: watermarks reset")
	return n, nil
}

// targets lists the analysis targets of a conversation.
func (e *Engine) targets(conv Conversation) []ScopeRef {
	out := []ScopeRef{{Tier: store.TierShortTerm, Key: conv.ID}}
	if conv.AssistantID != "" {
		out = append(out, ScopeRef{Tier: store.TierAssistant, Key: conv.AssistantID})
	}
	return append(out, ScopeRef{Tier: store.TierLongTerm, Key: e.Store.DefaultList()})
}

// AnalyzeConversation runs incremental analysis for every target of a conversation.
func (e *Engine) AnalyzeConversation(ctx context.Context, conversationID string) ([]Result, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, invalidInput("empty conversation id")
	}
	conv := e.Conversation(conversationID)

	var results []Result
	committed := false
	for _, target := range e.targets(conv) {
		if ctx.Err() != nil {
			break
		}
		res := e.Pipeline.Analyze(ctx, target, conv.ID)
		committed = committed || res.Outcome == OutcomeCommitted
		results = append(results, res)
	}
	if committed {
		e.invalidate(conversationID)
	}
	return results, nil
}

// analyzeActive is one analysis trigger: every tracked conversation is
// analyzed, and the trigger as a whole counts as one adaptive sample.
func (e *Engine) analyzeActive(ctx context.Context) error {
	var all []Result
	defer func() { e.recordTrigger(all) }()

	for _, conv := range e.Conversations() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		results, _ := e.AnalyzeConversation(ctx, conv.ID)
		all = append(all, results...)
		logging.Debug().Str("conversation", conv.ID).Str("results", Summary(results)).Msg("analysis: cycle")
	}
	return nil
}

// recordTrigger feeds the adaptive interval. A trigger that never reached the
// model is not a sample; otherwise it succeeds if any target committed.
func (e *Engine) recordTrigger(results []Result) {
	attempted, committed := false, false
	for _, r := range results {
		attempted = attempted || r.Outcome.attempted()
		committed = committed || r.Outcome == OutcomeCommitted
	}
	if !attempted {
		return
	}
	next := e.Pipeline.Adaptive().Record(committed)
	logging.Debug().Bool("success", committed).Dur("interval", next).Msg("analysis: trigger recorded")
}

func (e *Engine) refreshRecommendations(ctx context.Context) error {
	for _, conv := range e.Conversations() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.Recommend(ctx, conv.ID, 0); err != nil {
			return err
		}
	}
	return nil
}

// RefreshDecay recomputes decay and freshness. Unless force is set it only
// acts once per refresh gate. Reports how many records changed and whether it ran.
func (e *Engine) RefreshDecay(ctx context.Context, force bool) (int, bool) {
	now := e.now()
	e.mu.Lock()
	if !force && !e.lastRefresh.IsZero() && now.Sub(e.lastRefresh) < e.cfg.Scheduler.RefreshGate.Duration {
		e.mu.Unlock()
		return 0, false
	}
	e.lastRefresh = now
	e.mu.Unlock()

	n := e.Store.Refresh(ctx, e.decay, now)
	if n > 0 {
		logging.Info().Int("records", n).Msg("refresh: decay and freshness updated")
	}
	return n, true
}

// Stats summarizes engine state for health output.
type Stats struct {
	Records          map[store.Tier]int `json:"records"`
	Lists            int                `json:"lists"`
	Conversations    int                `json:"conversations"`
	EmbeddingModel   string             `json:"embedding_model,omitempty"`
	AnalysisInterval string             `json:"analysis_interval"`
	SuccessRate      float64            `json:"success_rate"`
	Samples          int                `json:"samples"`
	Unsaved          bool               `json:"unsaved"`
}

// Stats returns current counts and scheduler state.
func (e *Engine) Stats() Stats {
	rate, samples := e.Pipeline.Adaptive().SuccessRate()
	e.mu.Lock()
	convs := len(e.convs)
	e.mu.Unlock()
	return Stats{
		Records:          e.Store.Counts(),
		Lists:            len(e.Store.Lists()),
		Conversations:    convs,
		EmbeddingModel:   e.Index.Model(),
		AnalysisInterval: e.Pipeline.Adaptive().Interval().String(),
		SuccessRate:      rate,
		Samples:          samples,
		Unsaved:          e.Store.Unsaved(),
	}
}
