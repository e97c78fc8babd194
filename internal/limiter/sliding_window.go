package limiter

import (
	"sync"
	"time"
)

// SlidingWindow implements the sliding window algorithm over a single key,
// keeping a deque of timestamps bounded by max (spec §4.A: "memory is
// O(max)"). Grounded on the teacher's pkg/rate.SlidingWindow, which kept an
// unbounded slice of per-request timestamps trimmed from the front; this
// version additionally supports a cost > 1 admission by pushing `cost`
// copies, per spec §4.A.
type SlidingWindow struct {
	mu         sync.Mutex
	window     time.Duration
	max        uint64
	timestamps []time.Time
	now        func() time.Time
}

// NewSlidingWindow creates a sliding window limiter.
func NewSlidingWindow(window time.Duration, max uint64) *SlidingWindow {
	return newSlidingWindow(window, max, time.Now)
}

func newSlidingWindow(window time.Duration, max uint64, now func() time.Time) *SlidingWindow {
	return &SlidingWindow{window: window, max: max, now: now}
}

// Allow implements Limiter.Allow per spec §4.A's Sliding Window section.
func (sw *SlidingWindow) Allow(cost uint64) (bool, error) {
	if err := validateCost(cost); err != nil {
		return false, err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	cutoff := now.Add(-sw.window)

	i := 0
	for i < len(sw.timestamps) && !sw.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.timestamps = sw.timestamps[i:]
	}

	if uint64(len(sw.timestamps))+cost > sw.max {
		return false, nil
	}

	for n := uint64(0); n < cost; n++ {
		sw.timestamps = append(sw.timestamps, now)
	}
	return true, nil
}

// Check implements Limiter.Check.
func (sw *SlidingWindow) Check() error { return checkViaAllow(sw) }

// Remaining reports the number of admissions still available in the
// current window.
func (sw *SlidingWindow) Remaining() uint64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := sw.now()
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(sw.timestamps) && !sw.timestamps[i].After(cutoff) {
		i++
	}
	used := uint64(len(sw.timestamps) - i)
	if used >= sw.max {
		return 0
	}
	return sw.max - used
}
