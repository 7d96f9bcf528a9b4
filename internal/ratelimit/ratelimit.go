// Package ratelimit provides the per-connection token bucket used to cap
// inbound message rates.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// tokenNanos is the credit value of one token. Credit is tracked as integer
// nanoseconds of accumulated refill, which avoids float drift at high rates.
const tokenNanos = int64(time.Second)

// TokenBucket allows bursts up to capacity and refills at rate tokens per
// second. Safe for concurrent use.
type TokenBucket struct {
	clock    Clock
	capacity int64
	rate     int64

	mu          sync.Mutex
	creditNanos int64
	last        time.Time
}

// NewTokenBucket returns a full bucket. capacity and rate must be positive.
func NewTokenBucket(clock Clock, capacity, rate int) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if rate < 1 {
		rate = 1
	}
	return &TokenBucket{
		clock:       clock,
		capacity:    int64(capacity),
		rate:        int64(rate),
		creditNanos: int64(capacity) * tokenNanos,
		last:        clock.Now(),
	}
}

// Allow consumes one token, reporting false when the bucket is empty.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.creditNanos < tokenNanos {
		return false
	}
	b.creditNanos -= tokenNanos
	return true
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed < 0 {
		// Clock went backwards; re-anchor without granting credit.
		b.last = now
		return
	}
	b.last = now

	max := b.capacity * tokenNanos
	earned := elapsed.Nanoseconds() * b.rate
	if earned < 0 || b.creditNanos+earned > max {
		b.creditNanos = max
		return
	}
	b.creditNanos += earned
}
