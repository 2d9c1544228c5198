package engine

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lazypower/recall/internal/logging"
)

const (
	minFactRunes        = 3
	defaultMaxFactChars = 500
)

// secretPatterns match content that must never be stored.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`\bxox[abpr]-[A-Za-z0-9-]{10,}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)\b(password|passwd|passcode|api[_ -]?key|secret|access[_ -]?token)\s*(is|[:=])\s*\S+`),
	regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
	regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
}

var leadingNumberRe = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)

// looksSecret reports whether s resembles a credential or card number.
func looksSecret(s string) bool {
	for _, re := range secretPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// validateCandidate checks a fact for obvious garbage.
// Returns a sanitized copy and an error if the candidate should be rejected.
func validateCandidate(c Candidate, maxChars int) (Candidate, error) {
	if maxChars <= 0 {
		maxChars = defaultMaxFactChars
	}

	c.Content = strings.TrimSpace(leadingNumberRe.ReplaceAllString(strings.TrimSpace(c.Content), ""))
	c.Content = strings.Trim(c.Content, "\"'`")
	c.Content = strings.TrimSpace(c.Content)
	c.Category = strings.TrimSpace(c.Category)

	if utf8.RuneCountInString(c.Content) < minFactRunes {
		return c, goerr.New("fact too short", goerr.V("content", c.Content))
	}
	if looksSecret(c.Content) {
		return c, goerr.New("fact looks like a secret")
	}

	if len(c.Content) > maxChars {
		logging.Debug().Int("from", len(c.Content)).Int("to", maxChars).Msg("validate: truncating fact")
		c.Content = truncateClean(c.Content, maxChars)
	}
	return c, nil
}

// validateAll keeps the valid candidates, logging the rest.
func validateAll(cands []Candidate, maxChars int) []Candidate {
	var out []Candidate
	for _, c := range cands {
		vc, err := validateCandidate(c, maxChars)
		if err != nil {
			logging.Debug().Err(err).Str("category", c.Category).Msg("validate: rejecting candidate")
			continue
		}
		out = append(out, vc)
	}
	return out
}

// truncateClean truncates a string to at most maxLen bytes, cutting at the last
// word boundary to avoid mid-word breaks and never splitting a rune.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > cut-200 && idx > 0 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
