package engine

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "but": true,
	"by": true, "can": true, "do": true, "does": true, "for": true, "from": true, "has": true, "have": true,
	"he": true, "her": true, "his": true, "how": true, "i": true, "i'm": true, "in": true, "is": true,
	"it": true, "its": true, "me": true, "my": true, "of": true, "on": true, "or": true, "our": true,
	"she": true, "so": true, "that": true, "the": true, "their": true, "them": true, "they": true,
	"this": true, "to": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "will": true, "with": true, "would": true,
	"you": true, "your": true, "am": true, "been": true, "about": true, "just": true, "also": true,
	"very": true, "there": true, "here": true, "than": true, "then": true, "into": true, "any": true,
}

// tokenize splits text into lowercase tokens on anything that is not a letter,
// digit, hyphen or underscore. Han characters become single-rune tokens so CJK
// text still produces overlap signals.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '\'':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// contentTokens returns the de-duplicated tokens of text minus stopwords, in first-seen order.
func contentTokens(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokenize(text) {
		tok = strings.Trim(tok, "-_'")
		if tok == "" || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// extractKeywords returns up to max content tokens, longest first as a cheap salience proxy.
func extractKeywords(text string, max int) []string {
	toks := contentTokens(text)
	sort.SliceStable(toks, func(i, j int) bool {
		return len([]rune(toks[i])) > len([]rune(toks[j]))
	})
	if max > 0 && len(toks) > max {
		toks = toks[:max]
	}
	return toks
}

// extractEntities returns capitalized words that do not start a sentence.
func extractEntities(text string) []string {
	var out []string
	seen := make(map[string]bool)
	sentenceStart := true
	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if word != "" {
			first := []rune(word)[0]
			if !sentenceStart && unicode.IsUpper(first) && !seen[word] {
				seen[word] = true
				out = append(out, word)
			}
		}
		sentenceStart = strings.HasSuffix(field, ".") || strings.HasSuffix(field, "!") || strings.HasSuffix(field, "?")
	}
	return out
}

// normalizeFact lowercases, strips punctuation and collapses whitespace.
func normalizeFact(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// keywordMatches counts query keywords present in a record's keywords or content.
func keywordMatches(query []string, keywords []string, content string) int {
	if len(query) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, k := range keywords {
		have[strings.ToLower(k)] = true
	}
	for _, tok := range contentTokens(content) {
		have[tok] = true
	}
	n := 0
	for _, q := range query {
		if have[q] {
			n++
		}
	}
	return n
}
