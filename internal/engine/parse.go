package engine

import (
	"regexp"
	"strings"

	"github.com/lazypower/recall/internal/llm"
)

// ParseKind says which stage of the parser produced a result.
type ParseKind int

const (
	// ParseNothing: the model returned nothing or the explicit sentinel.
	ParseNothing ParseKind = iota
	// ParseStrict: lines followed the requested format.
	ParseStrict
	// ParseHeuristic: lines were classified by keyword.
	ParseHeuristic
	// ParseFailed: output was present but no stage could use it.
	ParseFailed
)

func (k ParseKind) String() string {
	switch k {
	case ParseNothing:
		return "nothing"
	case ParseStrict:
		return "strict"
	case ParseHeuristic:
		return "heuristic"
	}
	return "failed"
}

// Candidate is one extracted fact before validation and dedup.
type Candidate struct {
	Category string
	Content  string

	embedding []float64
	model     string
}

// ParseResult is the typed outcome of parsing an extraction response.
type ParseResult struct {
	Kind  ParseKind
	Facts []Candidate
}

var (
	bulletRe   = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s+(.+)$`)
	categoryRe = regexp.MustCompile(`^([^:：]{1,32})\s*[:：]\s*(.+)$`)
)

type parseStage func(lines []string, format llm.Format) []Candidate

// ParseExtraction runs the strict stage, then the heuristic stage. Each stage
// is a pure function; the first one that yields facts wins.
func ParseExtraction(text string, format llm.Format) ParseResult {
	lines := responseLines(text)
	if len(lines) == 0 {
		return ParseResult{Kind: ParseNothing}
	}

	stages := []struct {
		kind ParseKind
		run  parseStage
	}{
		{ParseStrict, parseStrict},
		{ParseHeuristic, parseHeuristic},
	}
	for _, st := range stages {
		if facts := st.run(lines, format); len(facts) > 0 {
			return ParseResult{Kind: st.kind, Facts: facts}
		}
	}
	return ParseResult{Kind: ParseFailed}
}

// responseLines returns trimmed non-blank lines, or nil if the response is only the sentinel.
func responseLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isSentinel(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func isSentinel(line string) bool {
	l := strings.Trim(strings.ToUpper(line), "-*•. `")
	return l == llm.NothingSentinel || l == "NO_UPDATE" || l == "NOTHING"
}

// splitCategory splits "label: text" when label is a known category.
func splitCategory(line string) (string, string, bool) {
	m := categoryRe.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	cat, ok := ResolveCategory(m[1])
	if !ok {
		return "", "", false
	}
	return cat, strings.TrimSpace(m[2]), true
}

func parseStrict(lines []string, format llm.Format) []Candidate {
	var out []Candidate
	for _, line := range lines {
		if cat, text, ok := splitCategory(line); ok {
			out = append(out, Candidate{Category: cat, Content: text})
			continue
		}
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		body := strings.TrimSpace(m[1])
		if cat, text, ok := splitCategory(body); ok {
			out = append(out, Candidate{Category: cat, Content: text})
			continue
		}
		cat, ok := classify(body)
		if !ok && format == llm.FormatCategory {
			cat = CategoryOther
		}
		out = append(out, Candidate{Category: cat, Content: body})
	}
	return out
}

func parseHeuristic(lines []string, _ llm.Format) []Candidate {
	var out []Candidate
	for _, line := range lines {
		if cat, ok := classify(line); ok {
			out = append(out, Candidate{Category: cat, Content: line})
		}
	}
	return out
}
