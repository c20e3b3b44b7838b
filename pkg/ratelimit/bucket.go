// Package ratelimit provides the token bucket gating embedding provider
// calls. Unlike a leaky bucket, the full token budget is restored at the end
// of each interval.
package ratelimit

import (
	"sync"
	"time"
)

// Default budget: 20 calls per minute.
const (
	DefaultTokens   = 20
	DefaultInterval = 60 * time.Second
)

// Bucket is a full-refill token bucket. Safe for concurrent use.
type Bucket struct {
	mu        sync.Mutex
	max       int
	available int
	interval  time.Duration
	resetAt   time.Time
	now       func() time.Time
}

// Status describes the bucket state at a point in time
type Status struct {
	Available int   `json:"available"`
	Max       int   `json:"max"`
	ResetInMs int64 `json:"resetInMs"`
}

// New creates a bucket with the given budget per interval
func New(tokens int, interval time.Duration) *Bucket {
	if tokens <= 0 {
		tokens = DefaultTokens
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	b := &Bucket{
		max:       tokens,
		available: tokens,
		interval:  interval,
		now:       time.Now,
	}
	b.resetAt = b.now().Add(interval)
	return b
}

// NewWithClock creates a bucket with an injectable clock (for testing)
func NewWithClock(tokens int, interval time.Duration, now func() time.Time) *Bucket {
	b := New(tokens, interval)
	b.now = now
	b.resetAt = now().Add(b.interval)
	return b
}

// TryConsume takes one token if available. It never blocks.
func (b *Bucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available <= 0 {
		return false
	}
	b.available--
	return true
}

// Status reports the current availability and time until the next refill
func (b *Bucket) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	resetIn := b.resetAt.Sub(b.now()).Milliseconds()
	if resetIn < 0 {
		resetIn = 0
	}
	return Status{
		Available: b.available,
		Max:       b.max,
		ResetInMs: resetIn,
	}
}

// refillLocked restores the full budget once the interval has elapsed.
// If several intervals passed unobserved, the reset point advances to the
// start of the current one.
func (b *Bucket) refillLocked() {
	now := b.now()
	if now.Before(b.resetAt) {
		return
	}
	elapsed := now.Sub(b.resetAt)
	periods := elapsed/b.interval + 1
	b.resetAt = b.resetAt.Add(periods * b.interval)
	b.available = b.max
}
