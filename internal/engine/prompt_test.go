package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/store"
)

func sectionTitles(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Title
	}
	return out
}

func TestSectionsOrderAndUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	work, err := s.CreateList(ctx, "work")
	require.NoError(t, err)
	paused, err := s.CreateList(ctx, "paused")
	require.NoError(t, err)
	require.NoError(t, s.SetListActive(ctx, paused.ID, false))

	dark := rec("dark", store.TierLongTerm, "default", "likes dark mode")
	s.Commit(ctx, []store.Record{
		dark,
		rec("alex", store.TierLongTerm, "default", "name is Alex"),
		rec("go", store.TierLongTerm, work.ID, "writes go services"),
		rec("hidden", store.TierLongTerm, paused.ID, "secret hobby project"),
		rec("fri", store.TierShortTerm, "c1", "deadline is friday"),
		rec("terse", store.TierAssistant, "a1", "answer tersely"),
	})

	a := NewAssembler(s, DefaultWeights(), PromptConfig{})
	sections := a.Sections(Conversation{ID: "c1", AssistantID: "a1"},
		[]Recommendation{{Record: dark}, {Record: dark}}, "dark mode")

	titles := sectionTitles(sections)
	require.Len(t, titles, 5)
	assert.Equal(t, []string{"Relevant memories", "Assistant memories", "Conversation memories"}, titles[:3])
	assert.ElementsMatch(t, []string{"Long-term memories: default", "Long-term memories: work"}, titles[3:])

	seen := map[string]int{}
	for _, sec := range sections {
		for _, r := range sec.Records {
			seen[r.ID]++
		}
	}
	assert.Equal(t, map[string]int{"dark": 1, "alex": 1, "go": 1, "fri": 1, "terse": 1}, seen)
	for _, sec := range sections {
		if sec.Title == "Long-term memories: default" {
			assert.Equal(t, []string{"name is Alex"}, contents(sec.Records))
		}
	}
}

func TestSectionsCaps(t *testing.T) {
	s := newTestStore(t)
	var recs []store.Record
	for i, word := range []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"} {
		recs = append(recs, rec(fmt.Sprintf("st%d", i), store.TierShortTerm, "c1", "remember "+word))
		recs = append(recs, rec(fmt.Sprintf("lt%d", i), store.TierLongTerm, "default", "knows "+word))
	}
	s.Commit(context.Background(), recs)

	a := NewAssembler(s, DefaultWeights(), PromptConfig{ShortTermCap: 2, LongTermCap: 3})
	sections := a.Sections(Conversation{ID: "c1"}, nil, "")
	require.Len(t, sections, 2)
	assert.Len(t, sections[0].Records, 2)
	assert.Len(t, sections[1].Records, 3)
}

func TestSectionsPreferImportantFacts(t *testing.T) {
	s := newTestStore(t)
	low := rec("low", store.TierShortTerm, "c1", "mentioned the weather")
	low.Importance = 0.1
	high := rec("high", store.TierShortTerm, "c1", "deadline is friday")
	high.Importance = 0.9
	s.Commit(context.Background(), []store.Record{low, high})

	a := NewAssembler(s, DefaultWeights(), PromptConfig{ShortTermCap: 1})
	sections := a.Sections(Conversation{ID: "c1"}, nil, "")
	require.Len(t, sections, 1)
	assert.Equal(t, []string{"deadline is friday"}, contents(sections[0].Records))
}

func TestRender(t *testing.T) {
	assert.Empty(t, Render(nil))

	out := Render([]Section{
		{Title: "Relevant memories", Records: []store.Record{{Content: "likes dark mode", Category: "preference"}}},
		{Title: "Conversation memories", Records: []store.Record{{Content: "deadline is friday"}}},
	})
	assert.Equal(t, "<memory>\n"+
		"### Relevant memories\n"+
		"- [preference] likes dark mode\n"+
		"\n"+
		"### Conversation memories\n"+
		"- deadline is friday\n"+
		"</memory>", out)
}

func TestApply(t *testing.T) {
	sections := []Section{{Title: "Relevant memories", Records: []store.Record{{Content: "likes dark mode"}}}}
	block := Render(sections)

	appendA := NewAssembler(newTestStore(t), DefaultWeights(), PromptConfig{})
	assert.Equal(t, "You are helpful.\n\n"+block, appendA.Apply("You are helpful.", sections))
	assert.Equal(t, block, appendA.Apply("  ", sections))
	assert.Equal(t, "You are helpful.", appendA.Apply("You are helpful.", nil))

	prependA := NewAssembler(newTestStore(t), DefaultWeights(), PromptConfig{Position: "prepend"})
	assert.Equal(t, block+"\n\nYou are helpful.", prependA.Apply("You are helpful.", sections))
}
