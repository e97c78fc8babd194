package flowtype

import "time"

// OnExceed names the action a Rule takes when its limiters reject.
type OnExceed string

const (
	OnExceedReject  OnExceed = "reject"
	OnExceedAllow   OnExceed = "allow"
	OnExceedDegrade OnExceed = "degrade"
)

// BanScope names which identifier kind a Rule's ban action bans on.
type BanScope string

const (
	BanScopeIP   BanScope = "ip"
	BanScopeUser BanScope = "user"
	BanScopeMac  BanScope = "mac"
)

// BanAction configures the ban escalation attached to a Rule's action.
type BanAction struct {
	Threshold        int
	InitialDuration  time.Duration
	BackoffMultiplier float64
	MaxDuration      time.Duration
	Scope            BanScope
}

// Action is the terminal behavior a Rule applies when a matched chain
// rejects.
type Action struct {
	OnExceed OnExceed
	Ban      *BanAction // nil when the rule never escalates to a ban
}

// LimiterKind discriminates the LimiterConfig union.
type LimiterKind string

const (
	LimiterTokenBucket   LimiterKind = "token_bucket"
	LimiterSlidingWindow LimiterKind = "sliding_window"
	LimiterFixedWindow   LimiterKind = "fixed_window"
	LimiterConcurrency   LimiterKind = "concurrency"
	LimiterQuota         LimiterKind = "quota"
	LimiterCustom        LimiterKind = "custom"
)

// LimiterConfig is the sum type described in spec §3: exactly one of the
// Kind-indicated fields is meaningful for a given value.
type LimiterConfig struct {
	Kind LimiterKind

	// TokenBucket
	Capacity   uint64
	RefillRate float64 // tokens per second

	// SlidingWindow / FixedWindow
	Window time.Duration
	Max    uint64

	// Concurrency
	MaxPermits uint64

	// Quota
	QuotaType      string
	QuotaLimit     uint64
	QuotaWindow    time.Duration
	QuotaOverdraft float64 // percent, e.g. 20 == 20%

	// Custom
	CustomName string
	CustomJSON string
}

// Validate checks the bounds spec §3 requires at load time: capacities and
// rates are positive and bounded.
func (c LimiterConfig) Validate() error {
	switch c.Kind {
	case LimiterTokenBucket:
		if c.Capacity == 0 || c.RefillRate <= 0 {
			return errInvalidLimiterConfig
		}
	case LimiterSlidingWindow, LimiterFixedWindow:
		if c.Window <= 0 || c.Max == 0 {
			return errInvalidLimiterConfig
		}
	case LimiterConcurrency:
		if c.MaxPermits == 0 {
			return errInvalidLimiterConfig
		}
	case LimiterQuota:
		if c.QuotaLimit == 0 || c.QuotaWindow <= 0 || c.QuotaOverdraft < 0 {
			return errInvalidLimiterConfig
		}
	case LimiterCustom:
		if c.CustomName == "" {
			return errInvalidLimiterConfig
		}
	default:
		return errInvalidLimiterConfig
	}
	return nil
}

var errInvalidLimiterConfig = simpleError("invalid limiter config")

type simpleError string

func (e simpleError) Error() string { return string(e) }

// MatcherKind discriminates the Matcher union (spec §4.H).
type MatcherKind string

const (
	MatcherIdentifierEq MatcherKind = "identifier_eq"
	MatcherIPRange      MatcherKind = "ip_range"
	MatcherGeoCountry   MatcherKind = "geo_country"
	MatcherAPIVersion   MatcherKind = "api_version"
	MatcherDeviceType   MatcherKind = "device_type"
	MatcherCustom       MatcherKind = "custom"
	MatcherAnd          MatcherKind = "and"
	MatcherOr           MatcherKind = "or"
	MatcherNot          MatcherKind = "not"
)

// Matcher is a single match-condition or a composite of them.
type Matcher struct {
	Kind MatcherKind

	// MatcherIdentifierEq
	IdentifierTag IdentifierTag
	IdentifierVal string

	// MatcherIPRange: one or more CIDR blocks, v4 or v6.
	CIDRs []string

	// MatcherGeoCountry / MatcherAPIVersion / MatcherDeviceType: a set of
	// acceptable values.
	Set []string

	// MatcherCustom
	CustomName string
	CustomArgs map[string]string

	// MatcherAnd / MatcherOr: sub-matchers, evaluated with short-circuit.
	// MatcherNot: exactly one sub-matcher, negated.
	Sub []Matcher
}

// Rule is an admission policy: a non-empty set of matchers, a non-empty set
// of limiter configs, and a terminal action (spec §3).
type Rule struct {
	ID       string
	Name     string
	Priority uint16
	Matchers []Matcher
	Limiters []LimiterConfig
	Action   Action

	// insertionOrder breaks priority ties; set by the matcher/loader, not by
	// callers constructing a Rule by hand.
	InsertionOrder int
}

// MaxRuleIDLen is the bound on Rule.ID from spec §3.
const MaxRuleIDLen = 100
