package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/lazypower/recall/internal/store"
)

// Token-overlap thresholds for rephrasings the substring rule misses.
const (
	minOverlapTokens = 3
	minJaccard       = 0.6
)

// nearDuplicate reports whether two facts are the same after normalization,
// whether the shorter is a substring of the longer covering at least ratio of
// its length, or whether their content tokens overlap almost entirely.
func nearDuplicate(a, b string, ratio float64) bool {
	na, nb := normalizeFact(a), normalizeFact(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}

	short, long := na, nb
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if strings.Contains(long, short) &&
		float64(utf8.RuneCountInString(short)) >= ratio*float64(utf8.RuneCountInString(long)) {
		return true
	}

	return tokenOverlap(na, nb, ratio)
}

func tokenOverlap(a, b string, ratio float64) bool {
	ta, tb := contentTokens(a), contentTokens(b)
	small := min(len(ta), len(tb))
	if small < minOverlapTokens {
		return false
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	shared := 0
	for _, t := range tb {
		if set[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared)/float64(small) >= ratio && float64(shared)/float64(union) >= minJaccard
}

// dedupCandidates drops candidates that repeat an existing fact or an earlier
// candidate in the same batch.
func dedupCandidates(cands []Candidate, existing []store.Record, ratio float64) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if containsNear(existing, c.Content, ratio) || candidateSeen(out, c.Content, ratio) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containsNear(recs []store.Record, content string, ratio float64) bool {
	for _, r := range recs {
		if nearDuplicate(r.Content, content, ratio) {
			return true
		}
	}
	return false
}

func candidateSeen(cands []Candidate, content string, ratio float64) bool {
	for _, c := range cands {
		if nearDuplicate(c.Content, content, ratio) {
			return true
		}
	}
	return false
}

// semanticDedup embeds each candidate and drops those whose similarity to an
// existing record or an earlier candidate reaches threshold. Surviving
// candidates keep their vector. Embedding failure disables the pass.
func semanticDedup(ctx context.Context, idx *VectorIndex, cands []Candidate, existing []store.Record, threshold float64) []Candidate {
	if idx == nil || !idx.Available() || threshold <= 0 || len(cands) == 0 {
		return cands
	}
	model := idx.Model()

	var known [][]float64
	for _, r := range existing {
		if len(r.Embedding) > 0 && r.EmbeddingModel == model {
			known = append(known, r.Embedding)
			continue
		}
		vec, err := idx.Embed(ctx, r.Content)
		if err != nil {
			return cands
		}
		if vec != nil {
			known = append(known, vec)
		}
	}

	var out []Candidate
	for _, c := range cands {
		vec, err := idx.Embed(ctx, c.Content)
		if err != nil {
			return cands
		}
		dup := false
		for _, k := range known {
			if Similarity(vec, k) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		c.embedding = vec
		c.model = model
		known = append(known, vec)
		out = append(out, c)
	}
	return out
}
