package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/lazypower/recall/internal/store"
)

const (
	userMax               = 2000
	firstLastAssistantMax = 1000
	midAssistantMax       = 200
)

// Condense renders entries in conversation order for an extraction prompt:
// - user messages: up to 2000 chars
// - first + last assistant: up to 1000 chars
// - mid assistant: up to 200 chars + "..."
// - everything else dropped
func Condense(entries []ParsedEntry) string {
	if len(entries) == 0 {
		return ""
	}

	first, last := -1, -1
	for i, e := range entries {
		if e.Type == "assistant" {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	var b strings.Builder
	for i, e := range entries {
		switch e.Type {
		case "user":
			b.WriteString("[USER] ")
			b.WriteString(clip(e.Text, userMax))
		case "assistant":
			b.WriteString("[ASSISTANT] ")
			if i == first || i == last {
				b.WriteString(clip(e.Text, firstLastAssistantMax))
			} else {
				b.WriteString(clip(e.Text, midAssistantMax))
			}
		default:
			continue
		}
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// CondenseMessages renders a message-log delta.
func CondenseMessages(msgs []store.Message) string {
	entries := make([]ParsedEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, ParsedEntry{ID: m.ID, Type: m.Role, Role: m.Role, Text: m.Content, CreatedAt: m.CreatedAt})
	}
	return Condense(entries)
}

// clip cuts s to max bytes on a rune boundary and marks the cut.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
