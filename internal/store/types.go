package store

import (
	"fmt"
	"time"
)

// Tier is the lifetime class of a memory record.
type Tier string

const (
	TierLongTerm  Tier = "long_term"
	TierShortTerm Tier = "short_term"
	TierAssistant Tier = "assistant"
)

// Tiers lists every tier in prompt priority order after recommendations.
var Tiers = []Tier{TierAssistant, TierShortTerm, TierLongTerm}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierLongTerm, TierShortTerm, TierAssistant:
		return true
	}
	return false
}

// ParseTier accepts the canonical names plus a few short aliases.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "long_term", "long-term", "long", "lt":
		return TierLongTerm, nil
	case "short_term", "short-term", "short", "st", "conversation":
		return TierShortTerm, nil
	case "assistant", "as":
		return TierAssistant, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// Record is a single remembered fact. ScopeKey is a list id for long-term,
// a conversation id for short-term and an assistant id for assistant records.
type Record struct {
	ID                 string     `json:"id"`
	Content            string     `json:"content"`
	CreatedAt          time.Time  `json:"created_at"`
	Tier               Tier       `json:"tier"`
	ScopeKey           string     `json:"scope_key"`
	Category           string     `json:"category,omitempty"`
	Embedding          []float64  `json:"embedding,omitempty"`
	EmbeddingModel     string     `json:"embedding_model,omitempty"`
	Keywords           []string   `json:"keywords,omitempty"`
	Entities           []string   `json:"entities,omitempty"`
	Importance         float64    `json:"importance"`
	AccessCount        int        `json:"access_count"`
	LastAccessedAt     *time.Time `json:"last_accessed_at,omitempty"`
	DecayFactor        float64    `json:"decay_factor"`
	Freshness          float64    `json:"freshness"`
	AnalyzedMessageIDs []string   `json:"analyzed_message_ids,omitempty"`
	LastMessageID      string     `json:"last_message_id,omitempty"`
}

// Clone returns a deep copy so callers never share slices with the owner.
func (r Record) Clone() Record {
	c := r
	c.Embedding = append([]float64(nil), r.Embedding...)
	c.Keywords = append([]string(nil), r.Keywords...)
	c.Entities = append([]string(nil), r.Entities...)
	c.AnalyzedMessageIDs = append([]string(nil), r.AnalyzedMessageIDs...)
	if r.LastAccessedAt != nil {
		t := *r.LastAccessedAt
		c.LastAccessedAt = &t
	}
	return c
}

// List groups long-term records. Only active lists take part in retrieval.
type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry of a conversation log.
type Message struct {
	ID        string    `json:"id"`
	ScopeID   string    `json:"scope_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a unit of persistence. For a partial save it carries only the
// changed records and lists plus deletions; for a forced save it is the full state.
type Snapshot struct {
	Records        []Record `json:"records,omitempty"`
	Lists          []List   `json:"lists,omitempty"`
	DeletedRecords []string `json:"deleted_records,omitempty"`
	DeletedLists   []string `json:"deleted_lists,omitempty"`
}

// Empty reports whether the snapshot carries no changes.
func (s Snapshot) Empty() bool {
	return len(s.Records) == 0 && len(s.Lists) == 0 && len(s.DeletedRecords) == 0 && len(s.DeletedLists) == 0
}
