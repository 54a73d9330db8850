package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a token bucket that refills at an integer rate (tokens/sec)
// using a provided Clock.
//
// Refill accounting is done in nanosecond-granularity "credit" rather than
// floats so repeated small refills never drift.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	creditNanos int64 // 1 token == 1e9 credit nanos
	last        time.Time
}

const nanosPerToken = int64(time.Second)

// NewTokenBucket returns a bucket holding capacity tokens that refills at
// rate tokens per second. The bucket starts full.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:       clock,
		capacity:    capacity,
		rate:        rate,
		creditNanos: capacity * nanosPerToken,
		last:        clock.Now(),
	}
}

// Allow consumes the given number of tokens if available. tokens <= 0 always
// succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanosPerToken
	if b.creditNanos < cost {
		return false
	}
	b.creditNanos -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if elapsed <= 0 || b.rate <= 0 || b.capacity <= 0 {
		return
	}

	max := b.capacity * nanosPerToken
	// rate tokens/sec equals rate credit-nanos per elapsed nanosecond. Clamp
	// before multiplying to avoid overflow on long idle periods.
	if elapsed >= (max-b.creditNanos)/b.rate {
		b.creditNanos = max
		return
	}
	b.creditNanos += elapsed * b.rate
}
