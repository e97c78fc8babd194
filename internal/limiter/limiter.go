// Package limiter implements the single-key admission algorithms of spec
// §4.A: token bucket, sliding window, fixed window, and the concurrency
// semaphore. Grounded on the teacher's pkg/rate.TokenBucket /
// pkg/rate.SlidingWindow and internal/ratelimit.TokenBucket, generalized to
// the spec's cost-aware, non-suspending semantics.
package limiter

import (
	"github.com/flowguard/flowguard/internal/flowerr"
)

// Cost bounds shared by every limiter (spec §4.A).
const (
	MinCost uint64 = 1
	MaxCost uint64 = 1_000_000
)

// Limiter is the admission-testing interface every algorithm implements.
type Limiter interface {
	// Allow performs a non-blocking admission test for cost units against
	// the limiter's single key. Returns (true, nil) to admit, (false, nil)
	// to reject within well-defined admission semantics, or a non-nil error
	// for out-of-band conditions (invalid cost, corrupted state).
	Allow(cost uint64) (bool, error)

	// Check is sugar over Allow(1): it returns flowerr.Limited instead of
	// a bare false when the limiter is singleton per key.
	Check() error
}

func validateCost(cost uint64) error {
	if cost < MinCost || cost > MaxCost {
		return flowerr.New(flowerr.InvalidCost, "cost out of bounds").
			WithComponent(flowerr.ComponentLimiter)
	}
	return nil
}

// checkViaAllow is the default Check() implementation described in spec
// §4.A: "default implementation maps to allow(1) when the limiter is
// singleton per key".
func checkViaAllow(l Limiter) error {
	ok, err := l.Allow(1)
	if err != nil {
		return err
	}
	if !ok {
		return flowerr.New(flowerr.Limited, "rate limit exceeded").
			WithComponent(flowerr.ComponentLimiter)
	}
	return nil
}
