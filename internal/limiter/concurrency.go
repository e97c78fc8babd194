package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/flowguard/flowguard/internal/flowerr"
)

// Concurrency implements the concurrency semaphore of spec §4.A: FIFO-fair
// admission bounded by maxPermits, with an optional per-acquire timeout.
// Grounded on the teacher's internal/resilience.Bulkhead (a buffered-channel
// semaphore), generalized to: (1) acquire N permits at once, (2) an
// explicit timeout per call, (3) return an explicit Release() so callers can
// defer it at every call site per the spec §9 RAII note, instead of relying
// on the bulkhead's own defer.
type Concurrency struct {
	mu         sync.Mutex
	maxPermits uint64
	inFlight   uint64
	waiters    []*waiter // FIFO queue; head is granted first as room frees up
}

type waiter struct {
	need    uint64
	granted chan struct{}
}

// NewConcurrency creates a concurrency limiter admitting up to maxPermits
// simultaneous holders.
func NewConcurrency(maxPermits uint64) *Concurrency {
	return &Concurrency{maxPermits: maxPermits}
}

// Permit is the RAII handle returned by Acquire; Release must be called
// exactly once, typically via defer at the call site (spec §9).
type Permit struct {
	c        *Concurrency
	n        uint64
	mu       sync.Mutex
	released bool
}

// Release decrements in_flight by the permit's reserved count exactly once;
// subsequent calls are no-ops, matching the "dropping a handle decrements
// in_flight exactly once" invariant from spec §4.A / §8.4.
func (p *Permit) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()
	p.c.release(p.n)
}

// Acquire blocks until n permits are available, ctx is cancelled, or an
// optional timeout fires. A zero timeout means "no timeout" (block until
// ctx is done). On success it returns a Permit that the caller must
// Release(); on failure it returns (nil, err) with no net effect on
// in_flight.
func (c *Concurrency) Acquire(ctx context.Context, n uint64, timeout time.Duration) (*Permit, error) {
	if err := validateCost(n); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.waiters) == 0 && c.inFlight+n <= c.maxPermits {
		c.inFlight += n
		c.mu.Unlock()
		return &Permit{c: c, n: n}, nil
	}
	w := &waiter{need: n, granted: make(chan struct{})}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.granted:
		return &Permit{c: c, n: n}, nil
	case <-ctx.Done():
		if c.cancelWaiter(w) {
			return nil, ctx.Err()
		}
		// Lost the race: w was already granted concurrently with ctx
		// cancellation. Honor the grant rather than leak permits.
		<-w.granted
		return &Permit{c: c, n: n}, nil
	case <-timeoutCh:
		if c.cancelWaiter(w) {
			return nil, flowerr.New(flowerr.ConcurrencyTimeout, "timed out waiting for a permit").
				WithComponent(flowerr.ComponentLimiter)
		}
		<-w.granted
		return &Permit{c: c, n: n}, nil
	}
}

// cancelWaiter removes w from the queue if it has not yet been granted.
// Returns true if the removal happened (caller should treat the wait as
// cancelled), false if w was already granted and removed by a releaser.
func (c *Concurrency) cancelWaiter(w *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.waiters {
		if q == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Concurrency) release(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.inFlight {
		n = c.inFlight
	}
	c.inFlight -= n

	// Grant permits to waiters from the head while there's room; a waiter
	// that doesn't fit yet blocks the ones behind it, preserving FIFO order.
	for len(c.waiters) > 0 {
		head := c.waiters[0]
		if c.inFlight+head.need > c.maxPermits {
			break
		}
		c.inFlight += head.need
		c.waiters = c.waiters[1:]
		close(head.granted)
	}
}

// InFlight reports the current number of held permits.
func (c *Concurrency) InFlight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}
