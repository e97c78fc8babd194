package flowguard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/flowguard/flowguard/internal/ban"
	"github.com/flowguard/flowguard/internal/chain"
	"github.com/flowguard/flowguard/internal/circuit"
	"github.com/flowguard/flowguard/internal/flowerr"
	"github.com/flowguard/flowguard/internal/flowtype"
	"github.com/flowguard/flowguard/internal/metrics"
	"github.com/flowguard/flowguard/internal/quota"
	"github.com/flowguard/flowguard/internal/rules"
	"github.com/flowguard/flowguard/internal/telemetry"
)

// state is one atomically-swappable configuration snapshot: a compiled
// rule matcher plus one pre-built Decision Chain per rule. Governor.Check
// loads the current state once per request; UpdateConfig installs a new
// state without blocking in-flight requests, which keep running against
// the *state value they already loaded (spec §4.J: "snapshotted chains in
// flight continue to completion; new requests see the new config").
type state struct {
	rules   []flowtype.Rule
	matcher *rules.Matcher
	chains  map[string]*chain.Chain // keyed by Rule.ID
}

// Config is the validated input to NewGovernor / UpdateConfig: the active
// rule set plus the registry custom matchers resolve against.
type Config struct {
	Rules    []flowtype.Rule
	Registry *rules.Registry
}

// Governor is the top-level coordinator of spec §4.J.
type Governor struct {
	state atomic.Pointer[state]

	banManager *ban.Manager
	banChecker *ban.ParallelChecker

	limiters    *keyedLimiters
	concurrency *keyedConcurrency

	quotaMu          sync.Mutex
	quotaControllers map[string]*quota.Controller

	circuitMu       sync.Mutex
	circuitBreakers map[string]*circuit.Breaker

	customMu       sync.Mutex
	customLimiters map[string]CustomLimiterFunc

	rejectMu sync.Mutex
	rejects  map[string]uint32 // ruleID+":"+target key -> consecutive reject count

	telemetry telemetry.Telemetry
	metrics   *metrics.Collector

	stats Stats
}

// NewGovernor builds a Governor from cfg, wired to the given ban store and
// optional telemetry/metrics. tel zero-value defaults to a no-op logger
// and tracer; metricsCollector may be nil to disable metrics recording.
func NewGovernor(cfg Config, banStore ban.Store, banCfg ban.Config, tel telemetry.Telemetry, metricsCollector *metrics.Collector) (*Governor, error) {
	if tel.Logger == nil {
		tel = telemetry.NewNop()
	}
	banManager := ban.New(banStore, banCfg, tel.Logger)

	g := &Governor{
		banManager:       banManager,
		banChecker:       ban.NewParallelChecker(banManager, tel.Logger),
		limiters:         newKeyedLimiters(),
		concurrency:      newKeyedConcurrency(),
		quotaControllers: make(map[string]*quota.Controller),
		circuitBreakers:  make(map[string]*circuit.Breaker),
		customLimiters:   make(map[string]CustomLimiterFunc),
		rejects:          make(map[string]uint32),
		telemetry:        tel,
		metrics:          metricsCollector,
	}

	st, err := g.buildState(cfg)
	if err != nil {
		return nil, err
	}
	g.state.Store(st)
	return g, nil
}

func (g *Governor) buildState(cfg Config) (*state, error) {
	matcher, err := rules.NewMatcher(cfg.Rules, cfg.Registry)
	if err != nil {
		return nil, flowerr.New(flowerr.ConfigInvalid, "failed to compile rule matcher").
			WithComponent(flowerr.ComponentGovernor).WithCause(err)
	}
	chains := make(map[string]*chain.Chain, len(cfg.Rules))
	for i := range cfg.Rules {
		r := cfg.Rules[i]
		c, err := g.chainFor(&r)
		if err != nil {
			return nil, err
		}
		chains[r.ID] = c
	}
	return &state{rules: cfg.Rules, matcher: matcher, chains: chains}, nil
}

// UpdateConfig atomically replaces the active rule set (spec §4.J). Chains
// already handed to an in-flight Check call are unaffected.
func (g *Governor) UpdateConfig(cfg Config) error {
	st, err := g.buildState(cfg)
	if err != nil {
		return err
	}
	g.state.Store(st)
	return nil
}

// Stats returns a snapshot of the Governor's lock-free request counters.
func (g *Governor) Stats() Counters { return g.stats.Snapshot() }

// BanManager exposes the underlying Ban Manager for direct administrative
// operations (manual ban/unban), per spec §4.D.
func (g *Governor) BanManager() *ban.Manager { return g.banManager }

// Check implements spec §4.J's seven-step check algorithm.
func (g *Governor) Check(ctx context.Context, req *flowtype.RequestContext) (Decision, error) {
	g.stats.totalRequests.Add(1)

	ids := req.Identifiers()
	if len(ids) == 0 {
		g.stats.errors.Add(1)
		return Decision{}, flowerr.New(flowerr.NoIdentifier, "request carries no identifier").
			WithComponent(flowerr.ComponentGovernor)
	}

	targets := candidateBanTargets(req)
	if len(targets) > 0 {
		detail, err := g.banChecker.Check(ctx, targets)
		if err != nil {
			g.stats.errors.Add(1)
			return Decision{}, err
		}
		if detail != nil {
			g.stats.bannedRequests.Add(1)
			return Decision{Outcome: Banned, Ban: detail, Reason: "target is banned"}, nil
		}
	}

	st := g.state.Load()
	rule, matched := st.matcher.Match(req)
	if !matched {
		g.stats.allowedRequests.Add(1)
		return Decision{Outcome: Allowed}, nil
	}

	c := st.chains[rule.ID]
	result, err := c.Execute(ctx, req)
	if err != nil {
		g.stats.errors.Add(1)
		if g.metrics != nil {
			g.metrics.RecordError("chain", rule.ID)
		}
		return Decision{}, err
	}

	decision := Decision{Outcome: result.Outcome, RuleID: rule.ID, RuleName: rule.Name, Reason: result.Reason, Ban: result.Ban}
	g.stats.recordOutcome(result.Outcome)
	if g.metrics != nil {
		g.metrics.RecordOutcome(decisionOutcomeLabel(result.Outcome))
	}

	if result.Outcome == Rejected && rule.Action.Ban != nil {
		g.maybeEscalateBan(ctx, rule, req, result.Reason)
	}

	return decision, nil
}

// CheckResourceParallel implements spec §4.J's convenience path: it runs
// only the ban-check stage against a single resource key, bypassing rule
// matching and the Decision Chain entirely.
func (g *Governor) CheckResourceParallel(ctx context.Context, resourceID string) (Decision, error) {
	g.stats.totalRequests.Add(1)
	target := flowtype.BanTarget{Kind: flowtype.BanTargetUserID, Value: resourceID}
	detail, err := g.banChecker.Check(ctx, []flowtype.BanTarget{target})
	if err != nil {
		g.stats.errors.Add(1)
		return Decision{}, err
	}
	if detail != nil {
		g.stats.bannedRequests.Add(1)
		return Decision{Outcome: Banned, Ban: detail, Reason: "target is banned"}, nil
	}
	g.stats.allowedRequests.Add(1)
	return Decision{Outcome: Allowed}, nil
}

func candidateBanTargets(req *flowtype.RequestContext) []flowtype.BanTarget {
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

// maybeEscalateBan implements the rate-to-ban behavior spec §8's S1
// property exercises: a rule with Action.Ban configured counts consecutive
// rejections per (rule, scoped target); once the count reaches Threshold,
// it escalates to a real ban via the Ban Manager (whose own backoff
// schedule decides the duration, per spec §4.D) and resets the counter.
// Counting and escalation failures are logged, not propagated, since a
// rejected decision has already been returned to the caller.
func (g *Governor) maybeEscalateBan(ctx context.Context, rule *flowtype.Rule, req *flowtype.RequestContext, reason string) {
	banAction := rule.Action.Ban
	target, ok := banScopeTarget(banAction.Scope, req)
	if !ok {
		return
	}
	key := rule.ID + ":" + target.Key()

	g.rejectMu.Lock()
	g.rejects[key]++
	count := g.rejects[key]
	if int(count) >= banAction.Threshold {
		g.rejects[key] = 0
	}
	g.rejectMu.Unlock()

	if int(count) < banAction.Threshold {
		return
	}

	_, err := g.banManager.CreateBan(ctx, target, reason, flowtype.BanSource{Manual: false}, nil, nil)
	if err != nil {
		g.telemetry.L().Warn("failed to escalate rule rejection to a ban", zap.Error(err))
	}
}

func banScopeTarget(scope flowtype.BanScope, req *flowtype.RequestContext) (flowtype.BanTarget, bool) {
	switch scope {
	case flowtype.BanScopeIP:
		if req.IP == "" {
			return flowtype.BanTarget{}, false
		}
		return flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: req.IP}, true
	case flowtype.BanScopeUser:
		if req.UserID == "" {
			return flowtype.BanTarget{}, false
		}
		return flowtype.BanTarget{Kind: flowtype.BanTargetUserID, Value: req.UserID}, true
	case flowtype.BanScopeMac:
		if req.Mac == "" {
			return flowtype.BanTarget{}, false
		}
		return flowtype.BanTarget{Kind: flowtype.BanTargetMac, Value: req.Mac}, true
	default:
		return flowtype.BanTarget{}, false
	}
}

func decisionOutcomeLabel(o Outcome) string {
	switch o {
	case Allowed:
		return "allowed"
	case Rejected:
		return "rejected"
	case Banned:
		return "banned"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}
