// Package circuit implements the three-state circuit breaker of spec §4.F.
package circuit

import (
	"sync"
	"time"

	"github.com/flowguard/flowguard/internal/flowerr"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults per spec §4.F.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultTimeout          = 60 * time.Second
	DefaultHalfOpenMaxCalls = 3
)

// Options configures a Breaker.
type Options struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
	OnStateChange    func(name string, from, to State)
}

func (o *Options) setDefaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = DefaultSuccessThreshold
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HalfOpenMaxCalls <= 0 {
		o.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
}

// Breaker implements the circuit breaker pattern of spec §4.F. Grounded on
// the teacher's internal/circuit.Breaker, generalized to the spec's exact
// counter set (failure_count, success_count, total_calls, half_open_calls)
// and rewritten to guard every transition under a single sync.Mutex — the
// teacher's allowRequest released its RLock and re-acquired a Lock to
// perform the Open→HalfOpen transition, a window in which two concurrent
// observers could see inconsistent states, violating the "state transitions
// are serialized" invariant.
type Breaker struct {
	mu sync.Mutex

	name string
	opt  Options

	state           State
	failureCount    int
	successCount    int
	totalCalls      uint64
	halfOpenCalls   int
	lastFailureTime time.Time
	lastStateChange time.Time

	now func() time.Time
}

// NewBreaker creates a circuit breaker in the Closed state.
func NewBreaker(opt Options) *Breaker {
	return newBreaker(opt, time.Now)
}

func newBreaker(opt Options, now func() time.Time) *Breaker {
	opt.setDefaults()
	return &Breaker{
		name:            opt.Name,
		opt:             opt,
		state:           StateClosed,
		lastStateChange: now(),
		now:             now,
	}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying the Open→HalfOpen timeout
// transition if due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireOpen()
	return b.state
}

// maybeExpireOpen must be called with b.mu held.
func (b *Breaker) maybeExpireOpen() {
	if b.state == StateOpen && b.now().Sub(b.lastFailureTime) >= b.opt.Timeout {
		b.transition(StateHalfOpen)
		b.halfOpenCalls = 0
		b.successCount = 0
	}
}

// Allow reports whether a call may proceed, incrementing total_calls
// regardless of the outcome (spec §4.F: total_calls increments on every
// invocation, including rejections).
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalCalls++
	b.maybeExpireOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		return flowerr.New(flowerr.CircuitOpen, "circuit breaker is open").
			WithComponent(flowerr.ComponentCircuit).WithField("breaker", b.name)
	case StateHalfOpen:
		if b.halfOpenCalls >= b.opt.HalfOpenMaxCalls {
			return flowerr.New(flowerr.HalfOpenExhausted, "half-open probe budget exhausted").
				WithComponent(flowerr.ComponentCircuit).WithField("breaker", b.name)
		}
		b.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

// Execute runs fn under breaker protection, recording success/failure and
// driving state transitions per spec §4.F.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.opt.SuccessThreshold {
			b.resetLocked()
		}
	}
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure() {
	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.opt.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
		b.successCount = 0
		b.halfOpenCalls = 0
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = b.now()
	if b.opt.OnStateChange != nil {
		b.opt.OnStateChange(b.name, from, to)
	}
}

// Reset fully zeroes counters and moves to Closed (spec §4.F).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

// resetLocked must be called with b.mu held.
func (b *Breaker) resetLocked() {
	b.transition(StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCalls = 0
}

// Counters is a snapshot of spec §3's CircuitState counter set.
type Counters struct {
	State           State
	FailureCount    int
	SuccessCount    int
	TotalCalls      uint64
	HalfOpenCalls   int
	LastFailureTime time.Time
	LastStateChange time.Time
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counters{
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		TotalCalls:      b.totalCalls,
		HalfOpenCalls:   b.halfOpenCalls,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}
