package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/recall/internal/store"
)

// Entry is one JSONL line. Two shapes are accepted: a chat-export line with a
// nested message ({"type","uuid","timestamp","message":{role,content}}) and a
// flat message line ({"id","role","content","created_at"}).
type Entry struct {
	Type      string          `json:"type"` // "user", "assistant", "system"
	UUID      string          `json:"uuid"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`

	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt string          `json:"created_at"`
}

// Message is the nested message content.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"` // string or []ContentItem
}

// ContentItem represents a single content block (text, tool_use, tool_result).
type ContentItem struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"
	Text string `json:"text,omitempty"`
}

// ParsedEntry holds a fully parsed transcript entry.
type ParsedEntry struct {
	ID        string
	Type      string // "user", "assistant", "system"
	Role      string
	Text      string // extracted plain text
	CreatedAt time.Time
}

var systemReminderRe = regexp.MustCompile(`<system-reminder>[\s\S]*?</system-reminder>`)

// ParseFile reads a JSONL transcript file and returns parsed entries.
func ParseFile(path string) ([]ParsedEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader parses JSONL from r, skipping malformed and trivial lines.
func ParseReader(r io.Reader) ([]ParsedEntry, error) {
	var entries []ParsedEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			continue // skip malformed lines
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return entries, nil
}

// ParseLines parses transcript content from a string.
func ParseLines(content string) ([]ParsedEntry, error) {
	return ParseReader(strings.NewReader(content))
}

func parseLine(line []byte) (*ParsedEntry, error) {
	var entry Entry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil, err
	}

	pe := ParsedEntry{ID: entry.UUID, Type: entry.Type}
	var raw json.RawMessage
	switch {
	case entry.Message != nil && entry.Type != "":
		var msg Message
		if err := json.Unmarshal(entry.Message, &msg); err != nil {
			return nil, err
		}
		pe.Role = msg.Role
		raw = msg.Content
		pe.CreatedAt = parseTime(entry.Timestamp)
	case entry.Role != "" && entry.Content != nil:
		pe.ID = entry.ID
		pe.Type = entry.Role
		pe.Role = entry.Role
		raw = entry.Content
		pe.CreatedAt = parseTime(entry.CreatedAt)
	default:
		return nil, nil
	}
	if pe.Role == "" {
		pe.Role = pe.Type
	}

	text := extractText(raw)
	text = systemReminderRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if len(text) < 5 {
		return nil, nil
	}
	if strings.HasPrefix(text, "{") {
		return nil, nil
	}
	pe.Text = text
	return &pe, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// extractText handles the polymorphic content field.
// It may be a plain string or an array of ContentItem.
func extractText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []ContentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		var texts []string
		for _, item := range items {
			if item.Type == "text" && item.Text != "" {
				texts = append(texts, item.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

// CountUserMessages returns the number of user messages in the entries.
func CountUserMessages(entries []ParsedEntry) int {
	count := 0
	for _, e := range entries {
		if e.Type == "user" {
			count++
		}
	}
	return count
}

// ToMessages converts entries into message-log rows for scopeID. Entries
// without an id get one derived from the scope, position and text, so
// re-importing the same file yields the same ids.
func ToMessages(entries []ParsedEntry, scopeID string) []store.Message {
	out := make([]store.Message, 0, len(entries))
	for i, e := range entries {
		if e.Role != "user" && e.Role != "assistant" {
			continue
		}
		id := e.ID
		if id == "" {
			id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d/%s", scopeID, i, e.Text))).String()
		}
		out = append(out, store.Message{
			ID:        id,
			ScopeID:   scopeID,
			Role:      e.Role,
			Content:   e.Text,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
