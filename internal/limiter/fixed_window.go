package limiter

import (
	"sync"
	"time"
)

// FixedWindow implements the fixed window algorithm over a single key
// (spec §4.A). Grounded on the teacher's internal/ratelimit bucket-alignment
// idea (window boundary = floor(now/W)*W), generalized to accept a cost and
// to make the reset-and-admit test observably atomic under one lock as the
// spec requires.
type FixedWindow struct {
	mu          sync.Mutex
	window      time.Duration
	max         uint64
	windowStart time.Time
	count       uint64
	now         func() time.Time
}

// NewFixedWindow creates a fixed window limiter.
func NewFixedWindow(window time.Duration, max uint64) *FixedWindow {
	return newFixedWindow(window, max, time.Now)
}

func newFixedWindow(window time.Duration, max uint64, now func() time.Time) *FixedWindow {
	return &FixedWindow{window: window, max: max, now: now}
}

func alignedBucket(t time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return t
	}
	return t.Truncate(window)
}

// Allow implements Limiter.Allow per spec §4.A's Fixed Window section.
func (fw *FixedWindow) Allow(cost uint64) (bool, error) {
	if err := validateCost(cost); err != nil {
		return false, err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	now := fw.now()
	bucket := alignedBucket(now, fw.window)
	if !bucket.Equal(fw.windowStart) {
		fw.windowStart = bucket
		fw.count = 0
	}

	if fw.count+cost > fw.max {
		return false, nil
	}
	fw.count += cost
	return true, nil
}

// Check implements Limiter.Check.
func (fw *FixedWindow) Check() error { return checkViaAllow(fw) }

// Remaining reports the admissions left in the current aligned window.
func (fw *FixedWindow) Remaining() uint64 {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	now := fw.now()
	bucket := alignedBucket(now, fw.window)
	if !bucket.Equal(fw.windowStart) {
		return fw.max
	}
	if fw.count >= fw.max {
		return 0
	}
	return fw.max - fw.count
}
