package limiter

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm over a single key,
// guarded by a single small lock as spec §4.A requires. Grounded on the
// teacher's pkg/rate.TokenBucket, rewritten to the spec's exact refill and
// non-mutating-reject semantics (the teacher's version stored tokens/
// lastRefill in two separate sync.Map entries updated non-atomically with
// each other; this version keeps them under one lock so a reject never
// partially mutates state).
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	capacity   float64
	refillRate float64 // tokens per second
	now        func() time.Time
}

// NewTokenBucket creates a token bucket starting full, per spec §4.A.
func NewTokenBucket(capacity uint64, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity uint64, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		lastRefill: now(),
		capacity:   float64(capacity),
		refillRate: refillRate,
		now:        now,
	}
}

// Allow implements Limiter.Allow per spec §4.A's Token Bucket section:
// elapsed = now - last_refill; tokens = min(capacity, tokens + elapsed*rate);
// admit and subtract iff tokens >= cost; last_refill always advances to now.
func (tb *TokenBucket) Allow(cost uint64) (bool, error) {
	if err := validateCost(cost); err != nil {
		return false, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0 // monotonic clock guarantees this in practice
	}
	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now

	fc := float64(cost)
	if tb.tokens < fc {
		return false, nil
	}
	tb.tokens -= fc
	return true, nil
}

// Check implements Limiter.Check.
func (tb *TokenBucket) Check() error { return checkViaAllow(tb) }

// Remaining returns the current token count without mutating state beyond
// the implicit refill (matches read semantics used by quota/limit surfaces).
func (tb *TokenBucket) Remaining() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
