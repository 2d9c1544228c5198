package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// Format is the line format an extraction response must follow.
type Format int

const (
	// FormatCategory asks for "category: fact" lines.
	FormatCategory Format = iota
	// FormatBullet asks for "- fact" lines.
	FormatBullet
)

// NothingSentinel is what the model returns when there is nothing new to remember.
const NothingSentinel = "NONE"

// ExtractionRequest describes one extraction prompt.
type ExtractionRequest struct {
	Focus      string   // what kind of facts to look for
	Format     Format
	Categories []string // allowed categories for FormatCategory
	Known      []string // facts already stored for the scope
}

// ExtractionPrompt builds the instructions for fact extraction. The conversation
// delta is sent separately as content.
func ExtractionPrompt(req ExtractionRequest) string {
	var b strings.Builder

	b.WriteString("You are a memory extraction system. Read the conversation excerpt and extract durable facts worth remembering.\n\n")
	fmt.Fprintf(&b, "Focus: %s\n\n", req.Focus)

	b.WriteString("Output format:\n")
	switch req.Format {
	case FormatCategory:
		b.WriteString("- One fact per line as `category: fact text`\n")
		fmt.Fprintf(&b, "- category must be one of: %s\n", strings.Join(req.Categories, ", "))
	default:
		b.WriteString("- One fact per line as `- fact text`\n")
	}
	b.WriteString("- Write each fact as a short standalone statement (under 25 words)\n")
	b.WriteString("- No numbering, headings, commentary or blank lines\n")
	fmt.Fprintf(&b, "- If there is nothing new worth remembering, return exactly: %s\n\n", NothingSentinel)

	b.WriteString("Rules:\n")
	b.WriteString("- Only extract stable, reusable information; skip small talk and one-off requests\n")
	b.WriteString("- NEVER include credentials, passwords, API keys, tokens, account numbers or other secrets\n")
	b.WriteString("- NEVER include sensitive personal identifiers (government ids, card numbers, exact addresses, phone numbers)\n")
	b.WriteString("- Do not repeat or rephrase facts that are already known\n")

	if len(req.Known) > 0 {
		b.WriteString("\nALREADY KNOWN (do not repeat):\n")
		for _, k := range req.Known {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString("\n")
		}
	}

	return strings.TrimSpace(b.String())
}

// QueryExpansionPrompt asks for alternative phrasings of a memory search query.
func QueryExpansionPrompt() string {
	return `You are a search query expansion system for a personal memory store.
Rewrite the user's query as 1-3 short search phrases (3-8 words each) that capture different aspects of its intent.

Rules:
- One phrase per line
- No numbering, bullets or commentary
- If the query is already focused, return it unchanged on a single line`
}

var listMarkerRe = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)

// ParseLines splits a line-oriented response, dropping blanks, bullets and numbering.
func ParseLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarkerRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" || strings.EqualFold(line, NothingSentinel) {
			continue
		}
		out = append(out, line)
	}
	return out
}
