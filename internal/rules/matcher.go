package rules

import (
	"fmt"
	"net"

	"github.com/flowguard/flowguard/internal/flowtype"
)

// CustomMatcherFunc evaluates a flowtype.MatcherCustom against a request,
// given the matcher's registered args.
type CustomMatcherFunc func(ctx *flowtype.RequestContext, args map[string]string) bool

// Registry holds custom matchers keyed by registered name (spec §4.H).
type Registry struct {
	custom map[string]CustomMatcherFunc
}

// NewRegistry creates an empty custom-matcher registry.
func NewRegistry() *Registry {
	return &Registry{custom: make(map[string]CustomMatcherFunc)}
}

// Register adds a custom matcher under name, overwriting any prior
// registration.
func (r *Registry) Register(name string, fn CustomMatcherFunc) {
	r.custom[name] = fn
}

// compiledMatcher is a closure-compiled form of a flowtype.Matcher: CIDR
// blocks are pre-parsed and set membership is pre-hashed so match
// evaluation at request time never allocates or re-parses (spec §4.H's
// P99 < 200µs target over ≥100 rules).
type compiledMatcher func(ctx *flowtype.RequestContext) bool

func compileMatcher(m flowtype.Matcher, reg *Registry) (compiledMatcher, error) {
	switch m.Kind {
	case flowtype.MatcherIdentifierEq:
		tag, want := m.IdentifierTag, m.IdentifierVal
		return func(ctx *flowtype.RequestContext) bool {
			for _, id := range ctx.Identifiers() {
				if id.Tag() == tag {
					return id.Value() == want
				}
			}
			return false
		}, nil

	case flowtype.MatcherIPRange:
		nets := make([]*net.IPNet, 0, len(m.CIDRs))
		for _, c := range m.CIDRs {
			_, ipNet, err := net.ParseCIDR(c)
			if err != nil {
				return nil, fmt.Errorf("rules: invalid cidr %q: %w", c, err)
			}
			nets = append(nets, ipNet)
		}
		return func(ctx *flowtype.RequestContext) bool {
			ip := net.ParseIP(ctx.IP)
			if ip == nil {
				ip = net.ParseIP(ctx.ClientIP)
			}
			if ip == nil {
				return false
			}
			for _, n := range nets {
				if n.Contains(ip) {
					return true
				}
			}
			return false
		}, nil

	case flowtype.MatcherGeoCountry:
		set := toSet(m.Set)
		return func(ctx *flowtype.RequestContext) bool {
			return set[ctx.Header("X-Geo-Country")]
		}, nil

	case flowtype.MatcherAPIVersion:
		set := toSet(m.Set)
		return func(ctx *flowtype.RequestContext) bool {
			return set[ctx.Header("X-API-Version")]
		}, nil

	case flowtype.MatcherDeviceType:
		set := toSet(m.Set)
		return func(ctx *flowtype.RequestContext) bool {
			return set[ctx.Header("X-Device-Type")]
		}, nil

	case flowtype.MatcherCustom:
		fn, ok := reg.custom[m.CustomName]
		if !ok {
			return nil, fmt.Errorf("rules: unregistered custom matcher %q", m.CustomName)
		}
		args := m.CustomArgs
		return func(ctx *flowtype.RequestContext) bool {
			return fn(ctx, args)
		}, nil

	case flowtype.MatcherAnd:
		subs, err := compileAll(m.Sub, reg)
		if err != nil {
			return nil, err
		}
		return func(ctx *flowtype.RequestContext) bool {
			for _, s := range subs {
				if !s(ctx) {
					return false
				}
			}
			return true
		}, nil

	case flowtype.MatcherOr:
		subs, err := compileAll(m.Sub, reg)
		if err != nil {
			return nil, err
		}
		return func(ctx *flowtype.RequestContext) bool {
			for _, s := range subs {
				if s(ctx) {
					return true
				}
			}
			return false
		}, nil

	case flowtype.MatcherNot:
		if len(m.Sub) != 1 {
			return nil, fmt.Errorf("rules: not matcher requires exactly one sub-matcher, got %d", len(m.Sub))
		}
		subs, err := compileAll(m.Sub, reg)
		if err != nil {
			return nil, err
		}
		sub := subs[0]
		return func(ctx *flowtype.RequestContext) bool {
			return !sub(ctx)
		}, nil

	default:
		return nil, fmt.Errorf("rules: unknown matcher kind %q", m.Kind)
	}
}

func compileAll(ms []flowtype.Matcher, reg *Registry) ([]compiledMatcher, error) {
	out := make([]compiledMatcher, len(ms))
	for i, m := range ms {
		c, err := compileMatcher(m, reg)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
