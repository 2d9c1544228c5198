package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testAdaptive() *AdaptiveInterval {
	return NewAdaptiveInterval(AdaptiveConfig{
		Initial: time.Minute,
		Min:     30 * time.Second,
		Max:     4 * time.Minute,
		Window:  10,
		Low:     0.3,
		High:    0.7,
	})
}

func TestAdaptiveBacksOffOnFailure(t *testing.T) {
	a := testAdaptive()

	a.Record(false)
	a.Record(false)
	assert.Equal(t, time.Minute, a.Interval(), "no change below the sample minimum")

	a.Record(false)
	assert.Equal(t, 90*time.Second, a.Interval())

	for i := 0; i < 10; i++ {
		a.Record(false)
	}
	assert.Equal(t, 4*time.Minute, a.Interval(), "bounded by max")

	rate, n := a.SuccessRate()
	assert.Equal(t, 0.0, rate)
	assert.Equal(t, 10, n)
}

func TestAdaptiveSpeedsUpOnSuccess(t *testing.T) {
	a := testAdaptive()
	for i := 0; i < 10; i++ {
		a.Record(true)
	}
	assert.Equal(t, 30*time.Second, a.Interval(), "bounded by min")
}

func TestAdaptiveHoldsInBand(t *testing.T) {
	a := testAdaptive()
	for i := 0; i < 10; i++ {
		a.Record(i%2 == 0)
	}
	rate, _ := a.SuccessRate()
	assert.Equal(t, 0.5, rate)
	// alternating outcomes stay between the thresholds once the window fills
	before := a.Interval()
	a.Record(true)
	a.Record(false)
	assert.Equal(t, before, a.Interval())
}

func TestAdaptiveWindowRolls(t *testing.T) {
	a := testAdaptive()
	for i := 0; i < 10; i++ {
		a.Record(false)
	}
	for i := 0; i < 10; i++ {
		a.Record(true)
	}
	rate, n := a.SuccessRate()
	assert.Equal(t, 1.0, rate)
	assert.Equal(t, 10, n)
}

func TestAdaptiveClampsInitial(t *testing.T) {
	a := NewAdaptiveInterval(AdaptiveConfig{Initial: time.Hour, Min: time.Second, Max: time.Minute})
	assert.Equal(t, time.Minute, a.Interval())
}
