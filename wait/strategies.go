package wait

import (
	"math"
	"time"
)

// FixedStrategy pauses for the same duration between attempts
type FixedStrategy struct {
	duration time.Duration
}

// NewFixedStrategy creates a fixed pacing strategy
func NewFixedStrategy(duration time.Duration) *FixedStrategy {
	return &FixedStrategy{duration: duration}
}

// Next returns the next pause
func (s *FixedStrategy) Next() (time.Duration, bool) {
	return s.duration, true
}

// Reset resets the strategy
func (s *FixedStrategy) Reset() {}

// ExponentialBackoffStrategy grows the pause by a multiplier per attempt,
// capped at max when max is positive.
type ExponentialBackoffStrategy struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
	attempt    int
}

// NewExponentialBackoffStrategy creates an exponential backoff strategy
func NewExponentialBackoffStrategy(initial time.Duration, multiplier float64, max time.Duration) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		initial:    initial,
		multiplier: multiplier,
		max:        max,
	}
}

// Next returns the next pause
func (s *ExponentialBackoffStrategy) Next() (time.Duration, bool) {
	duration := time.Duration(float64(s.initial) * math.Pow(s.multiplier, float64(s.attempt)))
	if s.max > 0 && duration > s.max {
		duration = s.max
	}
	s.attempt++
	return duration, true
}

// Reset resets the strategy
func (s *ExponentialBackoffStrategy) Reset() {
	s.attempt = 0
}
