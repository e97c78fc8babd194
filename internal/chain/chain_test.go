package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowguard/flowguard/internal/ban"
	"github.com/flowguard/flowguard/internal/circuit"
	"github.com/flowguard/flowguard/internal/flowtype"
	"github.com/flowguard/flowguard/internal/limiter"
	"github.com/flowguard/flowguard/internal/quota"
)

// memStore is a tiny in-memory ban.Store test double, mirroring the one in
// internal/ban's own tests but kept private to this package.
type memStore struct {
	mu      sync.Mutex
	records map[string]flowtype.BanRecord
}

func newMemStore() *memStore { return &memStore{records: make(map[string]flowtype.BanRecord)} }

func (s *memStore) Save(ctx context.Context, r flowtype.BanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Target.Key()] = r
	return nil
}

func (s *memStore) IsBanned(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[target.Key()]
	if !ok || !r.Active(time.Now()) {
		return nil, nil
	}
	return &r, nil
}

func (s *memStore) Remove(ctx context.Context, target flowtype.BanTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, target.Key())
	return nil
}

func (s *memStore) History(ctx context.Context, target flowtype.BanTarget) (*ban.History, error) {
	return nil, nil
}

func (s *memStore) PurgeExpired(ctx context.Context) (int, error) { return 0, nil }

func TestChain_AllowsWhenEveryNodeAllows(t *testing.T) {
	store := newMemStore()
	mgr := ban.New(store, ban.Config{}, nil)
	t.Cleanup(mgr.Stop)
	banNode := NewBanNode("ban", ban.NewParallelChecker(mgr, nil))

	tb := limiter.NewTokenBucket(10, 10)
	rlNode := NewRateLimitNode("rate_limit", tb, 1)

	c := New("test-rule", []Node{banNode, rlNode})
	result, err := c.Execute(context.Background(), &flowtype.RequestContext{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, Allowed, result.Outcome)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(1), stats.Allowed)
}

func TestChain_BanNodeShortCircuitsAsBanned(t *testing.T) {
	store := newMemStore()
	mgr := ban.New(store, ban.Config{}, nil)
	t.Cleanup(mgr.Stop)
	ctx := context.Background()

	target := flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.2"}
	_, err := mgr.CreateBan(ctx, target, "abuse", flowtype.BanSource{}, nil, nil)
	require.NoError(t, err)

	banNode := NewBanNode("ban", ban.NewParallelChecker(mgr, nil))
	ranAfter := false
	afterNode := NewCustomNode("after", func(ctx context.Context, req *flowtype.RequestContext) (Result, error) {
		ranAfter = true
		return Result{Outcome: Allowed}, nil
	})

	c := New("test-rule", []Node{banNode, afterNode})
	result, err := c.Execute(ctx, &flowtype.RequestContext{IP: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, Banned, result.Outcome)
	assert.NotNil(t, result.Ban)
	assert.False(t, ranAfter, "chain must short-circuit before later nodes run")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Banned)
	assert.Equal(t, uint64(0), stats.Allowed)
}

func TestChain_RateLimitNodeRejectsAndShortCircuits(t *testing.T) {
	tb := limiter.NewTokenBucket(1, 0.0001)
	rlNode := NewRateLimitNode("rate_limit", tb, 1)
	ranAfter := false
	afterNode := NewCustomNode("after", func(ctx context.Context, req *flowtype.RequestContext) (Result, error) {
		ranAfter = true
		return Result{Outcome: Allowed}, nil
	})

	c := New("test-rule", []Node{rlNode, afterNode})
	ctx := context.Background()
	req := &flowtype.RequestContext{IP: "10.0.0.3"}

	first, err := c.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Allowed, first.Outcome)

	second, err := c.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Rejected, second.Outcome)
	assert.False(t, ranAfter)
}

func TestChain_QuotaNodeRejectsWhenExhausted(t *testing.T) {
	controller := quota.New(quota.Config{Limit: 1, Window: time.Minute}, nil)
	node := NewQuotaNode("quota", controller, "api_calls", 1)

	c := New("test-rule", []Node{node})
	ctx := context.Background()
	req := &flowtype.RequestContext{UserID: "user-1"}

	first, err := c.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Allowed, first.Outcome)

	second, err := c.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Rejected, second.Outcome)
}

func TestChain_ConcurrencyNodeReleasesPermitOnAllow(t *testing.T) {
	conc := limiter.NewConcurrency(1)
	node := NewConcurrencyNode("concurrency", conc, 1, 0)

	c := New("test-rule", []Node{node})
	ctx := context.Background()
	req := &flowtype.RequestContext{}

	result, err := c.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Allowed, result.Outcome)

	// The permit must have been released by the chain; a second call should
	// also succeed immediately rather than block.
	done := make(chan struct{})
	go func() {
		_, _ = c.Execute(ctx, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("concurrency permit was not released after chain.Execute returned")
	}
}

func TestChain_ConcurrencyNodeReleasesPermitWhenLaterNodePanics(t *testing.T) {
	conc := limiter.NewConcurrency(1)
	concNode := NewConcurrencyNode("concurrency", conc, 1, 0)
	panicNode := NewCustomNode("boom", func(ctx context.Context, req *flowtype.RequestContext) (Result, error) {
		panic("boom")
	})

	c := New("test-rule", []Node{concNode, panicNode})
	ctx := context.Background()
	req := &flowtype.RequestContext{}

	assert.Panics(t, func() {
		_, _ = c.Execute(ctx, req)
	})

	// Permit must have been released despite the panic.
	permit, err := conc.Acquire(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	permit.Release()
}

func TestChain_CircuitBreakerNodeRejectsWhenOpen(t *testing.T) {
	breaker := circuit.NewBreaker(circuit.Options{FailureThreshold: 1})
	breaker.Execute(func() error { return errors.New("boom") })
	require.Equal(t, circuit.StateOpen, breaker.State())

	innerCalls := 0
	inner := NewCustomNode("inner", func(ctx context.Context, req *flowtype.RequestContext) (Result, error) {
		innerCalls++
		return Result{Outcome: Allowed}, nil
	})

	node := NewCircuitBreakerNode("breaker", breaker, []Node{inner})
	c := New("test-rule", []Node{node})
	result, err := c.Execute(context.Background(), &flowtype.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, Rejected, result.Outcome)
	assert.Equal(t, 0, innerCalls, "an open breaker must short-circuit before running any inner node")
}

func TestChain_CircuitBreakerNodeTripsOpenOnInnerNodeErrors(t *testing.T) {
	breaker := circuit.NewBreaker(circuit.Options{FailureThreshold: 2})
	failing := NewCustomNode("failing", func(ctx context.Context, req *flowtype.RequestContext) (Result, error) {
		return Result{}, errors.New("storage unavailable")
	})
	node := NewCircuitBreakerNode("breaker", breaker, []Node{failing})
	c := New("test-rule", []Node{node})
	ctx := context.Background()
	req := &flowtype.RequestContext{}

	_, err := c.Execute(ctx, req)
	require.Error(t, err)
	assert.Equal(t, circuit.StateClosed, breaker.State())

	_, err = c.Execute(ctx, req)
	require.Error(t, err)
	assert.Equal(t, circuit.StateOpen, breaker.State(), "two inner-node failures should trip the breaker open")

	result, err := c.Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Rejected, result.Outcome, "once open, the node rejects without propagating the inner error")
}

func TestChain_CircuitBreakerNodeTreatsInnerRejectionAsBreakerSuccess(t *testing.T) {
	breaker := circuit.NewBreaker(circuit.Options{FailureThreshold: 1})
	rejecting := NewCustomNode("rejecting", func(ctx context.Context, req *flowtype.RequestContext) (Result, error) {
		return Result{Outcome: Rejected, Reason: "business limit"}, nil
	})
	node := NewCircuitBreakerNode("breaker", breaker, []Node{rejecting})
	c := New("test-rule", []Node{node})
	ctx := context.Background()
	req := &flowtype.RequestContext{}

	for i := 0; i < 3; i++ {
		result, err := c.Execute(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, Rejected, result.Outcome)
	}
	assert.Equal(t, circuit.StateClosed, breaker.State(), "a well-formed Rejected verdict is not a breaker failure")
}

func TestChain_NodeErrorPropagatesAndStillReleasesPermits(t *testing.T) {
	conc := limiter.NewConcurrency(1)
	concNode := NewConcurrencyNode("concurrency", conc, 1, 0)
	errNode := NewCustomNode("erroring", func(ctx context.Context, req *flowtype.RequestContext) (Result, error) {
		return Result{}, errors.New("boom")
	})

	c := New("test-rule", []Node{concNode, errNode})
	ctx := context.Background()
	_, err := c.Execute(ctx, &flowtype.RequestContext{})
	require.Error(t, err)

	permit, err := conc.Acquire(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	permit.Release()

	stats := c.NodeStats()
	assert.Equal(t, uint64(1), stats[1].Errored)
}
