package flowguard

import (
	"context"
	"fmt"

	"github.com/flowguard/flowguard/internal/chain"
	"github.com/flowguard/flowguard/internal/circuit"
	"github.com/flowguard/flowguard/internal/flowerr"
	"github.com/flowguard/flowguard/internal/flowtype"
	"github.com/flowguard/flowguard/internal/quota"
)

// CustomLimiterFunc is a user-registered limiter.custom implementation,
// looked up by flowtype.LimiterConfig.CustomName (spec §4.A's Custom kind).
type CustomLimiterFunc func(ctx context.Context, req *flowtype.RequestContext, argsJSON string) (bool, error)

// RegisterCustomLimiter installs fn under name. A rule referencing an
// unregistered custom limiter name fails chain construction with
// flowerr.ConfigInvalid.
func (g *Governor) RegisterCustomLimiter(name string, fn CustomLimiterFunc) {
	g.customMu.Lock()
	defer g.customMu.Unlock()
	g.customLimiters[name] = fn
}

// chainFor builds spec §4.I's Decision Chain for a matched rule: a Ban
// node first (so a ban this same rule just escalated to is caught on the
// very next request, even before the auto-unban sweep runs), then a single
// per-rule CircuitBreaker node wrapping every rule.Limiters node (spec
// §4.I's "plus any per-rule ban/quota/circuit steps"). The breaker only
// trips on a real error surfacing from one of those inner nodes — a
// Custom limiter callback failing, or any future limiter kind backed by a
// remote store — never on an ordinary Rejected verdict, which is a normal
// admission outcome and not a failure of the breaker's own protected call.
func (g *Governor) chainFor(rule *flowtype.Rule) (*chain.Chain, error) {
	inner := make([]chain.Node, 0, len(rule.Limiters))
	for i, lc := range rule.Limiters {
		node, err := g.nodeFor(rule, i, lc)
		if err != nil {
			return nil, err
		}
		inner = append(inner, node)
	}

	nodes := []chain.Node{
		chain.NewBanNode(rule.ID+":ban", g.banChecker),
		chain.NewCircuitBreakerNode(rule.ID+":circuit", g.circuitFor(rule.ID), inner),
	}
	return chain.New(rule.Name, nodes), nil
}

func (g *Governor) nodeFor(rule *flowtype.Rule, idx int, lc flowtype.LimiterConfig) (chain.Node, error) {
	name := fmt.Sprintf("%s:%d:%s", rule.ID, idx, lc.Kind)

	switch lc.Kind {
	case flowtype.LimiterTokenBucket, flowtype.LimiterSlidingWindow, flowtype.LimiterFixedWindow:
		return chain.NewCustomNode(name, g.rateLimitNodeFunc(rule.ID, idx, lc)), nil

	case flowtype.LimiterConcurrency:
		return chain.NewCustomNode(name, g.concurrencyNodeFunc(rule.ID, idx, lc)), nil

	case flowtype.LimiterQuota:
		controller := g.quotaFor(rule.ID, idx, lc)
		return chain.NewQuotaNode(name, controller, lc.QuotaType, 1), nil

	case flowtype.LimiterCustom:
		fn, err := g.customLimiterFor(lc.CustomName)
		if err != nil {
			return nil, err
		}
		return chain.NewCustomNode(name, g.customNodeFunc(fn, lc.CustomJSON)), nil

	default:
		return nil, flowerr.New(flowerr.Validation, "unsupported limiter kind in rule").
			WithComponent(flowerr.ComponentChain).WithField("kind", string(lc.Kind))
	}
}

// rateLimitNodeFunc adapts the per-identifier keyed token/sliding/fixed
// window limiters into a chain.CustomFunc, since chain.NewRateLimitNode
// takes a single pre-bound limiter.Limiter and these need a fresh instance
// per identifier resolved at request time.
func (g *Governor) rateLimitNodeFunc(ruleID string, idx int, lc flowtype.LimiterConfig) chain.CustomFunc {
	return func(ctx context.Context, req *flowtype.RequestContext) (chain.Result, error) {
		key := fmt.Sprintf("%s:%d:%s", ruleID, idx, identifierKey(req))
		l, err := g.limiters.getOrCreate(key, lc)
		if err != nil {
			return chain.Result{}, err
		}
		ok, err := l.Allow(1)
		if err != nil {
			return chain.Result{}, err
		}
		if !ok {
			return chain.Result{Outcome: chain.Rejected, Reason: "rate limit exceeded"}, nil
		}
		return chain.Result{Outcome: chain.Allowed}, nil
	}
}

// concurrencyNodeFunc models an in-flight admission gate rather than a
// chain-lifetime-held permit: it acquires and immediately releases, since
// chain.CustomNode's Execute signature has no release-func slot for the
// chain to defer. A rule needing a permit held for the whole request
// should build its chain by hand with chain.NewConcurrencyNode instead of
// going through Governor's config-driven builder.
func (g *Governor) concurrencyNodeFunc(ruleID string, idx int, lc flowtype.LimiterConfig) chain.CustomFunc {
	return func(ctx context.Context, req *flowtype.RequestContext) (chain.Result, error) {
		key := fmt.Sprintf("%s:%d:%s", ruleID, idx, identifierKey(req))
		c := g.concurrency.getOrCreate(key, lc.MaxPermits)
		permit, err := c.Acquire(ctx, 1, 0)
		if err != nil {
			if ferr, ok := err.(*flowerr.Error); ok && ferr.Kind == flowerr.ConcurrencyTimeout {
				return chain.Result{Outcome: chain.Rejected, Reason: "concurrency limit exceeded"}, nil
			}
			return chain.Result{}, err
		}
		permit.Release()
		return chain.Result{Outcome: chain.Allowed}, nil
	}
}

func (g *Governor) customLimiterFor(name string) (CustomLimiterFunc, error) {
	g.customMu.Lock()
	defer g.customMu.Unlock()
	fn, ok := g.customLimiters[name]
	if !ok {
		return nil, flowerr.New(flowerr.ConfigInvalid, "rule references an unregistered custom limiter").
			WithComponent(flowerr.ComponentChain).WithField("custom_name", name)
	}
	return fn, nil
}

func (g *Governor) customNodeFunc(fn CustomLimiterFunc, argsJSON string) chain.CustomFunc {
	return func(ctx context.Context, req *flowtype.RequestContext) (chain.Result, error) {
		ok, err := fn(ctx, req, argsJSON)
		if err != nil {
			return chain.Result{}, err
		}
		if !ok {
			return chain.Result{Outcome: chain.Rejected, Reason: "custom limiter rejected"}, nil
		}
		return chain.Result{Outcome: chain.Allowed}, nil
	}
}

func (g *Governor) quotaFor(ruleID string, idx int, lc flowtype.LimiterConfig) *quota.Controller {
	key := fmt.Sprintf("%s:%d", ruleID, idx)
	g.quotaMu.Lock()
	defer g.quotaMu.Unlock()
	if c, ok := g.quotaControllers[key]; ok {
		return c
	}
	c := quota.New(quota.Config{
		Limit:            lc.QuotaLimit,
		Window:           lc.QuotaWindow,
		AllowOverdraft:   lc.QuotaOverdraft > 0,
		OverdraftPercent: lc.QuotaOverdraft,
		AlertThresholds:  []float64{50, 75, 90, 100},
		DedupWindow:      lc.QuotaWindow,
	}, g.telemetry.Logger)
	g.quotaControllers[key] = c
	return c
}

func (g *Governor) circuitFor(ruleID string) *circuit.Breaker {
	g.circuitMu.Lock()
	defer g.circuitMu.Unlock()
	if b, ok := g.circuitBreakers[ruleID]; ok {
		return b
	}
	b := circuit.NewBreaker(circuit.Options{Name: ruleID})
	g.circuitBreakers[ruleID] = b
	return b
}
