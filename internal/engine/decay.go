package engine

import (
	"math"
	"time"

	"github.com/lazypower/recall/internal/store"
)

// Decay settings. Records are never fully forgotten: decay bottoms out at Floor.
// Decay only moves downward between resets; access does not restore it, it
// only moves the freshness reference point.
type DecayPolicy struct {
	HalfLife          time.Duration // without access
	Floor             float64
	FreshnessHalfLife time.Duration
}

// DefaultDecayPolicy is a 90-day half-life with a 0.1 floor and weekly freshness half-life.
func DefaultDecayPolicy() DecayPolicy {
	return DecayPolicy{HalfLife: 90 * 24 * time.Hour, Floor: 0.1, FreshnessHalfLife: 7 * 24 * time.Hour}
}

// lastTouch is the reference time for decay and freshness.
func lastTouch(r *store.Record) time.Time {
	if r.LastAccessedAt != nil && r.LastAccessedAt.After(r.CreatedAt) {
		return *r.LastAccessedAt
	}
	return r.CreatedAt
}

func halfLifeFactor(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, elapsed.Hours()/halfLife.Hours())
}

// apply recomputes decay and freshness in place and reports whether anything changed.
// Computed in Go (not SQL) because modernc.org/sqlite lacks pow().
func (p DecayPolicy) apply(r *store.Record, now time.Time) bool {
	ref := lastTouch(r)
	elapsed := now.Sub(ref)

	changed := false

	decay := math.Max(p.Floor, halfLifeFactor(elapsed, p.HalfLife))
	if r.DecayFactor <= 0 || r.DecayFactor > 1 {
		r.DecayFactor = 1
		changed = true
	}
	if decay < r.DecayFactor {
		r.DecayFactor = decay
		changed = true
	}

	fresh := clamp01(halfLifeFactor(elapsed, p.FreshnessHalfLife))
	if math.Abs(fresh-r.Freshness) > 1e-9 {
		r.Freshness = fresh
		changed = true
	}
	return changed
}
