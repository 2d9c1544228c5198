package engine

import (
	"sync"
	"time"
)

const adaptiveStep = 1.5

// AdaptiveInterval tunes the analysis interval from a rolling window of
// outcomes: a low success rate stretches it, a high one shortens it.
type AdaptiveInterval struct {
	mu         sync.Mutex
	current    time.Duration
	min, max   time.Duration
	window     []bool
	next       int
	filled     int
	minSamples int
	low, high  float64
}

// AdaptiveConfig bounds an AdaptiveInterval.
type AdaptiveConfig struct {
	Initial, Min, Max time.Duration
	Window            int
	Low, High         float64
}

// NewAdaptiveInterval creates an interval clamped to [Min, Max].
func NewAdaptiveInterval(cfg AdaptiveConfig) *AdaptiveInterval {
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	a := &AdaptiveInterval{
		min:        cfg.Min,
		max:        cfg.Max,
		window:     make([]bool, cfg.Window),
		minSamples: min(3, cfg.Window),
		low:        cfg.Low,
		high:       cfg.High,
	}
	a.current = a.clamp(cfg.Initial)
	return a
}

func (a *AdaptiveInterval) clamp(d time.Duration) time.Duration {
	if d < a.min {
		return a.min
	}
	if d > a.max {
		return a.max
	}
	return d
}

// Interval returns the current interval.
func (a *AdaptiveInterval) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// SuccessRate returns the windowed success rate and the number of samples.
func (a *AdaptiveInterval) SuccessRate() (float64, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rateLocked(), a.filled
}

func (a *AdaptiveInterval) rateLocked() float64 {
	if a.filled == 0 {
		return 0
	}
	n := 0
	for i := 0; i < a.filled; i++ {
		if a.window[i] {
			n++
		}
	}
	return float64(n) / float64(a.filled)
}

// Record adds one outcome and returns the adjusted interval.
func (a *AdaptiveInterval) Record(success bool) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window[a.next] = success
	a.next = (a.next + 1) % len(a.window)
	if a.filled < len(a.window) {
		a.filled++
	}
	if a.filled < a.minSamples {
		return a.current
	}

	switch rate := a.rateLocked(); {
	case rate < a.low:
		a.current = a.clamp(time.Duration(float64(a.current) * adaptiveStep))
	case rate > a.high:
		a.current = a.clamp(time.Duration(float64(a.current) / adaptiveStep))
	}
	return a.current
}
