package mcp

import (
	"math"
	"sync"
	"time"
)

// Reconnection defaults
const (
	DefaultReconnectBaseDelay   = 2 * time.Second
	DefaultReconnectFactor      = 1.5
	DefaultMaxReconnectAttempts = 5
)

// Backoff is the reconnection policy: exponential delays with a bounded
// number of attempts. The counter only resets on a healthy connection or an
// explicit Connect, so failures never carry over past a good connection.
type Backoff struct {
	Base        time.Duration
	Factor      float64
	MaxAttempts int

	mu       sync.Mutex
	attempts int
}

// NewBackoff returns a policy with the default 2s base, 1.5 factor and 5 attempts.
func NewBackoff() *Backoff {
	return &Backoff{
		Base:        DefaultReconnectBaseDelay,
		Factor:      DefaultReconnectFactor,
		MaxAttempts: DefaultMaxReconnectAttempts,
	}
}

// Next records another attempt and returns the delay before it. ok is false
// once the attempt count exceeds MaxAttempts; no delay is scheduled then.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	if b.attempts > b.MaxAttempts {
		return 0, false
	}
	return b.delayFor(b.attempts), true
}

// delayFor computes base × factor^(attempt−1).
func (b *Backoff) delayFor(attempt int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	scaled := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	return time.Duration(math.Round(scaled))
}

// Attempts returns the number of attempts since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset clears the attempt counter.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}
