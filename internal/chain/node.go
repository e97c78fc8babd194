// Package chain implements the Decision Chain of spec §4.I: an ordered
// list of admission nodes built from a matched rule, executed in
// declared order with short-circuit on reject/ban.
package chain

import (
	"context"
	"time"

	"github.com/flowguard/flowguard/internal/ban"
	"github.com/flowguard/flowguard/internal/circuit"
	"github.com/flowguard/flowguard/internal/flowerr"
	"github.com/flowguard/flowguard/internal/flowtype"
	"github.com/flowguard/flowguard/internal/limiter"
	"github.com/flowguard/flowguard/internal/quota"
)

// Outcome is a single node's (or the whole chain's) terminal verdict.
type Outcome int

const (
	Allowed Outcome = iota
	Rejected
	Banned
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Rejected:
		return "rejected"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

// Kind names the node type, per spec §4.I's {Ban, RateLimit, Quota,
// Concurrency, CircuitBreaker, Custom} union.
type Kind string

const (
	KindBan            Kind = "ban"
	KindRateLimit      Kind = "rate_limit"
	KindQuota          Kind = "quota"
	KindConcurrency    Kind = "concurrency"
	KindCircuitBreaker Kind = "circuit_breaker"
	KindCustom         Kind = "custom"
)

// Result is a node's verdict. Ban is populated only when Outcome == Banned.
type Result struct {
	Outcome Outcome
	Reason  string
	Ban     *flowtype.BanDetail
}

// Node is a single step of the Decision Chain. Execute returns a Result, an
// optional release function (non-nil for a Concurrency node's acquired
// permit, and always non-nil for a CircuitBreakerNode, which runs its inner
// nodes' releases — the chain defers it unconditionally, including on
// panic, per spec §9's RAII note), and an error for out-of-band failures
// distinct from a well-formed Rejected/Banned verdict.
type Node interface {
	Name() string
	Kind() Kind
	Execute(ctx context.Context, req *flowtype.RequestContext) (Result, func(), error)
}

// BanNode checks the request's candidate targets against the Ban Manager
// via the Parallel Ban Checker (spec §4.E), surfacing a hit as Banned.
type BanNode struct {
	name    string
	checker *ban.ParallelChecker
}

// NewBanNode builds a Ban node backed by checker.
func NewBanNode(name string, checker *ban.ParallelChecker) *BanNode {
	return &BanNode{name: name, checker: checker}
}

func (n *BanNode) Name() string { return n.name }
func (n *BanNode) Kind() Kind   { return KindBan }

func (n *BanNode) Execute(ctx context.Context, req *flowtype.RequestContext) (Result, func(), error) {
	targets := banTargets(req)
	if len(targets) == 0 {
		return Result{Outcome: Allowed}, nil, nil
	}
	detail, err := n.checker.Check(ctx, targets)
	if err != nil {
		return Result{}, nil, err
	}
	if detail != nil {
		return Result{Outcome: Banned, Reason: "target is banned", Ban: detail}, nil, nil
	}
	return Result{Outcome: Allowed}, nil, nil
}

func banTargets(req *flowtype.RequestContext) []flowtype.BanTarget {
	var targets []flowtype.BanTarget
	if req.IP != "" {
		targets = append(targets, flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: req.IP})
	}
	if req.UserID != "" {
		targets = append(targets, flowtype.BanTarget{Kind: flowtype.BanTargetUserID, Value: req.UserID})
	}
	if req.Mac != "" {
		targets = append(targets, flowtype.BanTarget{Kind: flowtype.BanTargetMac, Value: req.Mac})
	}
	return targets
}

// RateLimitNode runs a single limiter.Limiter admission test (spec §4.A) as
// a chain node. Cost defaults to 1 when Cost is zero.
type RateLimitNode struct {
	name string
	l    limiter.Limiter
	cost uint64
}

// NewRateLimitNode builds a RateLimit node wrapping l.
func NewRateLimitNode(name string, l limiter.Limiter, cost uint64) *RateLimitNode {
	if cost == 0 {
		cost = 1
	}
	return &RateLimitNode{name: name, l: l, cost: cost}
}

func (n *RateLimitNode) Name() string { return n.name }
func (n *RateLimitNode) Kind() Kind   { return KindRateLimit }

func (n *RateLimitNode) Execute(ctx context.Context, req *flowtype.RequestContext) (Result, func(), error) {
	ok, err := n.l.Allow(n.cost)
	if err != nil {
		return Result{}, nil, err
	}
	if !ok {
		return Result{Outcome: Rejected, Reason: "rate limit exceeded"}, nil, nil
	}
	return Result{Outcome: Allowed}, nil, nil
}

// QuotaNode consumes against a quota.Controller (spec §4.K) keyed by a
// per-request UserID/Resource pair.
type QuotaNode struct {
	name       string
	controller *quota.Controller
	resource   string
	cost       uint64
}

// NewQuotaNode builds a Quota node consuming resource for the request's
// UserID.
func NewQuotaNode(name string, controller *quota.Controller, resource string, cost uint64) *QuotaNode {
	if cost == 0 {
		cost = 1
	}
	return &QuotaNode{name: name, controller: controller, resource: resource, cost: cost}
}

func (n *QuotaNode) Name() string { return n.name }
func (n *QuotaNode) Kind() Kind   { return KindQuota }

func (n *QuotaNode) Execute(ctx context.Context, req *flowtype.RequestContext) (Result, func(), error) {
	result, err := n.controller.Consume(ctx, req.UserID, n.resource, n.cost)
	if err != nil {
		return Result{}, nil, err
	}
	if !result.Allowed {
		return Result{Outcome: Rejected, Reason: "quota exhausted"}, nil, nil
	}
	return Result{Outcome: Allowed}, nil, nil
}

// ConcurrencyNode acquires a permit from a limiter.Concurrency semaphore.
// The returned release function must be deferred by the chain for every
// exit path, including panics (spec §9).
type ConcurrencyNode struct {
	name    string
	c       *limiter.Concurrency
	permits uint64
	timeout time.Duration
}

// NewConcurrencyNode builds a Concurrency node acquiring permits permits
// from c, bounded by an optional per-acquire timeout (0 means no timeout).
func NewConcurrencyNode(name string, c *limiter.Concurrency, permits uint64, timeout time.Duration) *ConcurrencyNode {
	if permits == 0 {
		permits = 1
	}
	return &ConcurrencyNode{name: name, c: c, permits: permits, timeout: timeout}
}

func (n *ConcurrencyNode) Name() string { return n.name }
func (n *ConcurrencyNode) Kind() Kind   { return KindConcurrency }

func (n *ConcurrencyNode) Execute(ctx context.Context, req *flowtype.RequestContext) (Result, func(), error) {
	permit, err := n.c.Acquire(ctx, n.permits, n.timeout)
	if err != nil {
		if ferr, ok := err.(*flowerr.Error); ok && ferr.Kind == flowerr.ConcurrencyTimeout {
			return Result{Outcome: Rejected, Reason: "concurrency limit exceeded"}, nil, nil
		}
		return Result{}, nil, err
	}
	return Result{Outcome: Allowed}, permit.Release, nil
}

// CircuitBreakerNode wraps a run of downstream nodes (typically a rule's
// rate-limit/quota/custom nodes) inside a circuit.Breaker (spec §4.F): an
// out-of-band error from any inner node's Execute — a real failure, such as
// a storage round-trip failing, as opposed to a well-formed Rejected/Banned
// verdict — counts as a breaker failure and can trip the circuit open.
// While open (or while the half-open probe budget is exhausted), the node
// short-circuits to Rejected without running any inner node at all.
type CircuitBreakerNode struct {
	name    string
	breaker *circuit.Breaker
	inner   []Node
}

// NewCircuitBreakerNode builds a CircuitBreaker node gating on breaker and
// guarding inner, executed in order inside the breaker's call.
func NewCircuitBreakerNode(name string, breaker *circuit.Breaker, inner []Node) *CircuitBreakerNode {
	return &CircuitBreakerNode{name: name, breaker: breaker, inner: inner}
}

func (n *CircuitBreakerNode) Name() string { return n.name }
func (n *CircuitBreakerNode) Kind() Kind   { return KindCircuitBreaker }

func (n *CircuitBreakerNode) Execute(ctx context.Context, req *flowtype.RequestContext) (Result, func(), error) {
	var releases []func()
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	var result Result
	execErr := n.breaker.Execute(func() error {
		for _, node := range n.inner {
			res, rel, err := node.Execute(ctx, req)
			if rel != nil {
				releases = append(releases, rel)
			}
			if err != nil {
				return err
			}
			result = res
			if res.Outcome != Allowed {
				return nil
			}
		}
		result = Result{Outcome: Allowed}
		return nil
	})

	if execErr != nil {
		if ferr, ok := execErr.(*flowerr.Error); ok && (ferr.Kind == flowerr.CircuitOpen || ferr.Kind == flowerr.HalfOpenExhausted) {
			return Result{Outcome: Rejected, Reason: "circuit open"}, release, nil
		}
		return Result{}, release, execErr
	}
	return result, release, nil
}

// CustomFunc is a user-registered Custom node's check logic.
type CustomFunc func(ctx context.Context, req *flowtype.RequestContext) (Result, error)

// CustomNode wraps a user-supplied CustomFunc (spec §4.I's Custom kind).
type CustomNode struct {
	name string
	fn   CustomFunc
}

// NewCustomNode builds a Custom node running fn.
func NewCustomNode(name string, fn CustomFunc) *CustomNode {
	return &CustomNode{name: name, fn: fn}
}

func (n *CustomNode) Name() string { return n.name }
func (n *CustomNode) Kind() Kind   { return KindCustom }

func (n *CustomNode) Execute(ctx context.Context, req *flowtype.RequestContext) (Result, func(), error) {
	res, err := n.fn(ctx, req)
	return res, nil, err
}
