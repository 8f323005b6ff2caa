// Package backoff implements the reconnect backoff policy used by the price
// feeds: exponential growth capped at a maximum, with the attempt counter
// resetting on success. Venue gateway HTTP retries are handled by the
// retryable HTTP client in internal/venue, not by this package.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy computes exponential backoff durations: min(base*2^attempt, cap).
type Policy struct {
	Base time.Duration
	Cap  time.Duration

	// MaxAttempts bounds how many reconnect attempts are made before the
	// caller should treat the feed as degraded. Zero means unbounded.
	MaxAttempts int
}

// Default returns the standard reconnect policy: base=1s, cap=60s,
// unbounded attempts.
func Default() Policy {
	return Policy{Base: time.Second, Cap: 60 * time.Second}
}

// Duration returns the backoff duration for the given zero-based attempt
// number (0 = first retry).
func (p Policy) Duration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := math.Pow(2, float64(attempt))
	d := time.Duration(float64(p.Base) * mult)
	if d <= 0 || d > p.Cap {
		d = p.Cap
	}
	return d
}

// Exhausted reports whether attempt has used up the attempt budget.
// A zero MaxAttempts means unbounded (never exhausted).
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Counter tracks the running attempt count for one reconnect loop,
// resetting to zero on any successful message/call.
type Counter struct {
	attempt int
	policy  Policy
}

// NewCounter creates a Counter bound to the given policy.
func NewCounter(p Policy) *Counter {
	return &Counter{policy: p}
}

// Reset zeroes the attempt counter. Call on any successful message.
func (c *Counter) Reset() {
	c.attempt = 0
}

// Next returns the backoff duration for the next attempt and increments
// the counter, plus whether the attempt budget is now exhausted.
func (c *Counter) Next() (wait time.Duration, exhausted bool) {
	wait = c.policy.Duration(c.attempt)
	c.attempt++
	exhausted = c.policy.Exhausted(c.attempt)
	return wait, exhausted
}

// Attempt returns the current attempt count.
func (c *Counter) Attempt() int {
	return c.attempt
}

// FullJitter returns a duration uniformly distributed in [0, d), the AWS
// "full jitter" strategy.
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
