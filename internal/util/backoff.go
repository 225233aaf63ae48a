package util

import "time"

// Backoff is an exponential backoff calculator.
// It is not safe for concurrent use; the capture supervisor owns its instance.
type Backoff struct {
	current  time.Duration
	initial  time.Duration
	maxDelay time.Duration
	factor   float64
	attempts int
}

// NewBackoff returns a new Backoff with the given initial and maximum delays.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{
		current:  initial,
		initial:  initial,
		maxDelay: maxDelay,
		factor:   2.0,
	}
}

// Next returns the current delay and advances to the next value.
func (b *Backoff) Next() time.Duration {
	current := b.current
	b.current = min(time.Duration(float64(b.current)*b.factor), b.maxDelay)
	b.attempts++
	return current
}

// Attempts returns how many delays were handed out since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset sets the backoff back to the initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.attempts = 0
}
