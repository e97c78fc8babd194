package config

import (
	"github.com/flowguard/flowguard/internal/flowtype"
)

func (m MatcherSpec) toMatcher() flowtype.Matcher {
	sub := make([]flowtype.Matcher, 0, len(m.Sub))
	for _, s := range m.Sub {
		sub = append(sub, s.toMatcher())
	}
	return flowtype.Matcher{
		Kind:          flowtype.MatcherKind(m.Kind),
		IdentifierTag: flowtype.IdentifierTag(m.IdentifierTag),
		IdentifierVal: m.IdentifierVal,
		CIDRs:         m.CIDRs,
		Set:           m.Set,
		CustomName:    m.CustomName,
		CustomArgs:    m.CustomArgs,
		Sub:           sub,
	}
}

func (l LimiterSpec) toLimiterConfig() flowtype.LimiterConfig {
	return flowtype.LimiterConfig{
		Kind:           flowtype.LimiterKind(l.Kind),
		Capacity:       l.Capacity,
		RefillRate:     l.RefillRate,
		Window:         l.Window,
		Max:            l.Max,
		MaxPermits:     l.MaxPermits,
		QuotaType:      l.QuotaType,
		QuotaLimit:     l.QuotaLimit,
		QuotaWindow:    l.QuotaWindow,
		QuotaOverdraft: l.QuotaOverdraft,
		CustomName:     l.CustomName,
		CustomJSON:     l.CustomJSON,
	}
}

func (a ActionSpec) toAction() flowtype.Action {
	out := flowtype.Action{OnExceed: flowtype.OnExceed(a.OnExceed)}
	if a.Ban != nil {
		out.Ban = &flowtype.BanAction{
			Threshold:         a.Ban.Threshold,
			InitialDuration:   a.Ban.InitialDuration,
			BackoffMultiplier: a.Ban.BackoffMultiplier,
			MaxDuration:       a.Ban.MaxDuration,
			Scope:             flowtype.BanScope(a.Ban.Scope),
		}
	}
	return out
}

func (r RuleSpec) toRule(insertionOrder int) flowtype.Rule {
	matchers := make([]flowtype.Matcher, 0, len(r.Matchers))
	for _, m := range r.Matchers {
		matchers = append(matchers, m.toMatcher())
	}
	limiters := make([]flowtype.LimiterConfig, 0, len(r.Limiters))
	for _, l := range r.Limiters {
		limiters = append(limiters, l.toLimiterConfig())
	}
	return flowtype.Rule{
		ID:             r.ID,
		Name:           r.Name,
		Priority:       r.Priority,
		Matchers:       matchers,
		Limiters:       limiters,
		Action:         r.Action.toAction(),
		InsertionOrder: insertionOrder,
	}
}

// Rules converts the loaded document's rule specs into flowtype.Rule values
// ready for internal/rules.NewMatcher, assigning InsertionOrder in document
// order so priority ties break the way spec §4.H requires.
func (c *Config) Rules() []flowtype.Rule {
	out := make([]flowtype.Rule, 0, len(c.RuleSpecs))
	for i, r := range c.RuleSpecs {
		out = append(out, r.toRule(i))
	}
	return out
}
