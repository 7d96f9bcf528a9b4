package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTokenBucketBurstThenDeny(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("call %d denied within burst capacity", i)
		}
	}
	if b.Allow() {
		t.Fatalf("call allowed with empty bucket")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 2, 2)

	if !b.Allow() || !b.Allow() {
		t.Fatalf("burst denied")
	}
	if b.Allow() {
		t.Fatalf("allowed with empty bucket")
	}

	// 2 tokens/sec: half a second earns one token.
	clock.advance(500 * time.Millisecond)
	if !b.Allow() {
		t.Fatalf("denied after refill interval")
	}
	if b.Allow() {
		t.Fatalf("allowed more than earned")
	}
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 2, 100)

	if !b.Allow() || !b.Allow() {
		t.Fatalf("burst denied")
	}

	// A long idle period must not bank more than capacity.
	clock.advance(time.Hour)
	if !b.Allow() || !b.Allow() {
		t.Fatalf("refill to capacity denied")
	}
	if b.Allow() {
		t.Fatalf("bucket exceeded capacity after idle period")
	}
}

func TestTokenBucketClockBackwards(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 1, 1)

	if !b.Allow() {
		t.Fatalf("initial token denied")
	}

	clock.advance(-time.Minute)
	if b.Allow() {
		t.Fatalf("allowed after backwards clock jump with empty bucket")
	}

	clock.advance(time.Minute + time.Second)
	if !b.Allow() {
		t.Fatalf("denied after clock recovered")
	}
}
