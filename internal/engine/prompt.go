package engine

import (
	"fmt"
	"strings"

	"github.com/lazypower/recall/internal/store"
)

// PromptConfig caps each prompt section.
type PromptConfig struct {
	AssistantCap int
	ShortTermCap int
	LongTermCap  int    // per list
	Position     string // "append" or "prepend"
}

// Section is one titled block of facts.
type Section struct {
	Title   string
	Records []store.Record
}

// Assembler orders tier contents into a memory block for a system prompt.
type Assembler struct {
	store   *MemoryStore
	weights Weights
	cfg     PromptConfig
}

// NewAssembler creates an assembler.
func NewAssembler(s *MemoryStore, w Weights, cfg PromptConfig) *Assembler {
	if cfg.AssistantCap <= 0 {
		cfg.AssistantCap = 10
	}
	if cfg.ShortTermCap <= 0 {
		cfg.ShortTermCap = 10
	}
	if cfg.LongTermCap <= 0 {
		cfg.LongTermCap = 10
	}
	return &Assembler{store: s, weights: w, cfg: cfg}
}

// Sections builds the ordered sections: recommendations, assistant facts,
// conversation facts, then one section per active list. A record appears at
// most once, in the first section that claims it. Empty sections are omitted.
func (a *Assembler) Sections(conv Conversation, recs []Recommendation, query string) []Section {
	seen := make(map[string]bool)
	sc := NewScoreContext(query, conv.ID, conv.AssistantID)
	var out []Section

	add := func(title string, records []store.Record) {
		if len(records) > 0 {
			out = append(out, Section{Title: title, Records: records})
		}
	}

	var top []store.Record
	for _, r := range recs {
		if !seen[r.Record.ID] {
			seen[r.Record.ID] = true
			top = append(top, r.Record)
		}
	}
	add("Relevant memories", top)

	if conv.AssistantID != "" {
		add("Assistant memories", a.rank(a.store.Records(store.TierAssistant, conv.AssistantID), sc, seen, a.cfg.AssistantCap))
	}
	if conv.ID != "" {
		add("Conversation memories", a.rank(a.store.Records(store.TierShortTerm, conv.ID), sc, seen, a.cfg.ShortTermCap))
	}

	for _, l := range a.store.Lists() {
		if !l.IsActive {
			continue
		}
		add("Long-term memories: "+l.Name, a.rank(a.store.Records(store.TierLongTerm, l.ID), sc, seen, a.cfg.LongTermCap))
	}
	return out
}

// rank orders records by adjusted score with a neutral base similarity and
// takes up to limit unseen ones, marking them seen.
func (a *Assembler) rank(records []store.Record, sc ScoreContext, seen map[string]bool, limit int) []store.Record {
	scored := make([]Scored, 0, len(records))
	for _, r := range records {
		if seen[r.ID] {
			continue
		}
		scored = append(scored, a.weights.Adjust(1, r, sc))
	}
	Rank(scored)

	var out []store.Record
	for _, s := range scored {
		if len(out) >= limit {
			break
		}
		seen[s.Record.ID] = true
		out = append(out, s.Record)
	}
	return out
}

// Render formats sections as a <memory> block. No sections renders "".
func Render(sections []Section) string {
	if len(sections) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<memory>\n")
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s\n", s.Title)
		for _, r := range s.Records {
			if r.Category != "" {
				fmt.Fprintf(&b, "- [%s] %s\n", r.Category, r.Content)
			} else {
				fmt.Fprintf(&b, "- %s\n", r.Content)
			}
		}
	}
	b.WriteString("</memory>")
	return b.String()
}

// Apply places the rendered block before or after base.
func (a *Assembler) Apply(base string, sections []Section) string {
	block := Render(sections)
	switch {
	case block == "":
		return base
	case strings.TrimSpace(base) == "":
		return block
	case a.cfg.Position == "prepend":
		return block + "\n\n" + base
	default:
		return base + "\n\n" + block
	}
}
