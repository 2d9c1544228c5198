package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lazypower/recall/internal/llm"
)

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		format llm.Format
		kind   ParseKind
		facts  []Candidate
	}{
		{
			name:   "chinese category labels",
			text:   "用户偏好: likes dark mode\n个人信息：name is Alex",
			format: llm.FormatCategory,
			kind:   ParseStrict,
			facts: []Candidate{
				{Category: CategoryPreference, Content: "likes dark mode"},
				{Category: CategoryPersonalInfo, Content: "name is Alex"},
			},
		},
		{
			name:   "english labels with noise lines",
			text:   "Here is what I found:\nWork: works in finance\n\nPreference: prefers tea over coffee",
			format: llm.FormatCategory,
			kind:   ParseStrict,
			facts: []Candidate{
				{Category: CategoryWork, Content: "works in finance"},
				{Category: CategoryPreference, Content: "prefers tea over coffee"},
			},
		},
		{
			name:   "bullets in bullet format",
			text:   "- deadline is friday\n2. uses postgres 16",
			format: llm.FormatBullet,
			kind:   ParseStrict,
			facts: []Candidate{
				{Content: "deadline is friday"},
				{Content: "uses postgres 16"},
			},
		},
		{
			name:   "bullets in category format get classified",
			text:   "- likes dark mode\n* owns a sailboat",
			format: llm.FormatCategory,
			kind:   ParseStrict,
			facts: []Candidate{
				{Category: CategoryPreference, Content: "likes dark mode"},
				{Category: CategoryOther, Content: "owns a sailboat"},
			},
		},
		{
			name:   "heuristic fallback",
			text:   "The user loves jazz music.\nSomething unrelated.",
			format: llm.FormatCategory,
			kind:   ParseHeuristic,
			facts: []Candidate{
				{Category: CategoryPreference, Content: "The user loves jazz music."},
			},
		},
		{
			name:   "sentinel",
			text:   "  NONE  \n",
			format: llm.FormatCategory,
			kind:   ParseNothing,
		},
		{
			name:   "blank",
			text:   "\n \n",
			format: llm.FormatBullet,
			kind:   ParseNothing,
		},
		{
			name:   "unusable",
			text:   "I cannot help with that.",
			format: llm.FormatCategory,
			kind:   ParseFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseExtraction(tt.text, tt.format)
			assert.Equal(t, tt.kind, got.Kind, got.Kind.String())
			assert.Equal(t, tt.facts, got.Facts)
		})
	}
}

func TestResolveCategory(t *testing.T) {
	for label, want := range map[string]string{
		"用户偏好":          CategoryPreference,
		"  Personal Info ": CategoryPersonalInfo,
		"**work**":        CategoryWork,
		"兴趣爱好":          CategoryInterest,
	} {
		got, ok := ResolveCategory(label)
		assert.True(t, ok, label)
		assert.Equal(t, want, got, label)
	}
	_, ok := ResolveCategory("weather")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	cat, ok := classify("I work in finance")
	assert.True(t, ok)
	assert.Equal(t, CategoryWork, cat)

	cat, ok = classify("我喜欢咖啡")
	assert.True(t, ok)
	assert.Equal(t, CategoryPreference, cat)

	_, ok = classify("the sky is blue")
	assert.False(t, ok)
}

func TestImportanceFor(t *testing.T) {
	assert.Equal(t, 0.7, importanceFor(CategoryPersonalInfo))
	assert.Equal(t, 0.6, importanceFor(CategoryPreference))
	assert.Equal(t, 0.6, importanceFor(CategoryWork))
	assert.Equal(t, 0.5, importanceFor(CategoryGoal))
	assert.Equal(t, 0.5, importanceFor(""))
}
