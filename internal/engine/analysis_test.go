package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/llm"
	"github.com/lazypower/recall/internal/store"
)

var longTermDefault = ScopeRef{Tier: store.TierLongTerm, Key: "default"}

// factModel answers like an extraction model that recognizes a few phrases.
func factModel() *llm.MockClient {
	facts := []struct{ trigger, line string }{
		{"I like dark mode", "用户偏好: likes dark mode"},
		{"My name is Alex", "个人信息: name is Alex"},
		{"I work in finance", "work: works in finance"},
	}
	return &llm.MockClient{Handler: func(_, content string) (string, error) {
		var lines []string
		for _, f := range facts {
			if strings.Contains(content, f.trigger) {
				lines = append(lines, f.line)
			}
		}
		if len(lines) == 0 {
			return llm.NothingSentinel, nil
		}
		return strings.Join(lines, "\n"), nil
	}}
}

func newTestPipeline(t *testing.T, client llm.Client, log MessageLog) (*Pipeline, *MemoryStore) {
	t.Helper()
	s := newTestStore(t)
	p := NewPipeline(s, log, client, testIndex(t, nil), NewLockTable(time.Minute), nil, PipelineConfig{EmptyDeltaMemo: true})
	return p, s
}

func TestAnalyzeIncremental(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	client := factModel()
	p, s := newTestPipeline(t, client, log)

	log.add("c1", "m1", "I like dark mode", "m2", "My name is Alex")
	res := p.Analyze(ctx, longTermDefault, "c1")
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, 2, res.DeltaSize)
	require.Len(t, res.Created, 2)

	first := s.Records(store.TierLongTerm, "default")
	assert.ElementsMatch(t, []string{"likes dark mode", "name is Alex"}, contents(first))
	for _, r := range first {
		assert.Equal(t, []string{"m1", "m2"}, r.AnalyzedMessageIDs)
		assert.Equal(t, "m2", r.LastMessageID)
	}
	byContent := map[string]store.Record{}
	for _, r := range first {
		byContent[r.Content] = r
	}
	assert.Equal(t, CategoryPreference, byContent["likes dark mode"].Category)
	assert.Equal(t, CategoryPersonalInfo, byContent["name is Alex"].Category)
	assert.Equal(t, 0.7, byContent["name is Alex"].Importance)

	// nothing new
	res = p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Equal(t, 1, client.CallCount())

	// a repeated fact yields nothing
	log.add("c1", "m3", "I like dark mode")
	res = p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Len(t, s.Records(store.TierLongTerm, "default"), 2)
	assert.Contains(t, client.LastCall().Prompt, "likes dark mode", "known facts are sent")

	// unchanged delta after an empty run is not re-sent
	res = p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, 2, client.CallCount())

	log.add("c1", "m4", "I work in finance")
	res = p.Analyze(ctx, longTermDefault, "c1")
	require.Equal(t, OutcomeCommitted, res.Outcome)
	require.Len(t, res.Created, 1)
	assert.Equal(t, "works in finance", res.Created[0].Content)
	assert.Equal(t, CategoryWork, res.Created[0].Category)
	assert.Equal(t, []string{"m3", "m4"}, res.Created[0].AnalyzedMessageIDs)

	for _, r := range first {
		again, ok := s.Get(r.ID)
		require.True(t, ok)
		assert.Equal(t, r.AnalyzedMessageIDs, again.AnalyzedMessageIDs, "old watermarks unchanged")
	}
	assert.Len(t, s.Records(store.TierLongTerm, "default"), 3)
	assert.Equal(t, OutcomeNoop, p.Analyze(ctx, longTermDefault, "c1").Outcome)
}

func TestAnalyzeShortTermBullets(t *testing.T) {
	log := newMemLog()
	log.add("c1", "m1", "The deadline is Friday and we use Postgres")
	client := &llm.MockClient{Responses: []string{"- deadline is friday\n- uses postgres"}}
	p, s := newTestPipeline(t, client, log)

	target := ScopeRef{Tier: store.TierShortTerm, Key: "c1"}
	res := p.Analyze(context.Background(), target, "c1")
	require.Equal(t, OutcomeCommitted, res.Outcome)
	assert.ElementsMatch(t, []string{"deadline is friday", "uses postgres"}, contents(s.Records(store.TierShortTerm, "c1")))
	assert.Contains(t, client.LastCall().Content, "[USER] The deadline is Friday")

	assert.Equal(t, "short_term:c1=committed(2)", Summary([]Result{res}))
}

func TestAnalyzeFailureLeavesWatermark(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	log.add("c1", "m1", "I like dark mode")
	client := &llm.MockClient{Err: errors.New("model overloaded")}
	p, s := newTestPipeline(t, client, log)

	res := p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, goerr.HasTag(res.Err, TagExtractionFailed))
	assert.Empty(t, s.All())
	assert.Empty(t, s.AnalyzedMessageIDs(store.TierLongTerm, ""))

	// the same delta is retried once the model recovers
	client.Err = nil
	client.Responses = []string{"用户偏好: likes dark mode"}
	res = p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, []string{"m1"}, res.Created[0].AnalyzedMessageIDs)
}

func TestAnalyzeWithoutClient(t *testing.T) {
	log := newMemLog()
	log.add("c1", "m1", "I like dark mode")
	p, s := newTestPipeline(t, nil, log)

	res := p.Analyze(context.Background(), longTermDefault, "c1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, goerr.HasTag(res.Err, TagExtractionFailed))
	assert.Empty(t, s.All())
}

func TestAnalyzeParseFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	log := newMemLog()
	log.add("c1", "m1", "I like dark mode")
	client := &llm.MockClient{Responses: []string{"I cannot help with that.", "用户偏好: likes dark mode"}}
	p, s := newTestPipeline(t, client, log)

	res := p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Empty(t, s.All())

	res = p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeCommitted, res.Outcome, "unparseable output does not memoize the delta")
	assert.Equal(t, 2, client.CallCount())
}

func TestAnalyzeCancelledBeforeCommit(t *testing.T) {
	log := newMemLog()
	log.add("c1", "m1", "I like dark mode")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &llm.MockClient{Handler: func(_, _ string) (string, error) {
		cancel()
		return "用户偏好: likes dark mode", nil
	}}
	p, s := newTestPipeline(t, client, log)

	res := p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, s.All())
}

func TestAnalyzeCancelledUpfront(t *testing.T) {
	log := newMemLog()
	log.add("c1", "m1", "I like dark mode")
	p, s := newTestPipeline(t, factModel(), log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Analyze(ctx, longTermDefault, "c1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, s.All())
}

func TestAnalyzeSkipsWhenInProgress(t *testing.T) {
	log := newMemLog()
	log.add("c1", "m1", "I like dark mode")
	client := factModel()
	s := newTestStore(t)
	locks := NewLockTable(time.Minute)
	p := NewPipeline(s, log, client, nil, locks, nil, PipelineConfig{})

	release, ok := locks.TryAcquire("analysis:" + longTermDefault.String())
	require.True(t, ok)

	res := p.Analyze(context.Background(), longTermDefault, "c1")
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, 0, client.CallCount())

	release()
	res = p.Analyze(context.Background(), longTermDefault, "c1")
	assert.Equal(t, OutcomeCommitted, res.Outcome)
}

func TestAnalyzeInvalidInput(t *testing.T) {
	p, _ := newTestPipeline(t, factModel(), newMemLog())

	res := p.Analyze(context.Background(), ScopeRef{Tier: "archive", Key: "x"}, "c1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, IsInvalidInput(res.Err))

	res = p.Analyze(context.Background(), longTermDefault, " ")
	assert.True(t, IsInvalidInput(res.Err))
}

func TestAnalyzeMessageLogError(t *testing.T) {
	log := newMemLog()
	log.err = errors.New("database is locked")
	p, _ := newTestPipeline(t, factModel(), log)

	res := p.Analyze(context.Background(), longTermDefault, "c1")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, goerr.HasTag(res.Err, TagExtractionFailed))
}

func TestAnalyzeDropsSecrets(t *testing.T) {
	log := newMemLog()
	log.add("c1", "m1", "my key is sk-abcdefghijklmnopqrstuv and I like tea")
	client := &llm.MockClient{Responses: []string{"other: api key is sk-abcdefghijklmnopqrstuv\n用户偏好: likes tea"}}
	p, s := newTestPipeline(t, client, log)

	res := p.Analyze(context.Background(), longTermDefault, "c1")
	require.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, []string{"likes tea"}, contents(s.All()))
}
