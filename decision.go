package flowguard

import (
	"time"

	"github.com/flowguard/flowguard/internal/chain"
	"github.com/flowguard/flowguard/internal/flowtype"
)

// Outcome is a Decision's terminal verdict, per spec §6's external
// interface ({Allowed, Rejected, Banned}).
type Outcome = chain.Outcome

const (
	Allowed  = chain.Allowed
	Rejected = chain.Rejected
	Banned   = chain.Banned
)

// Decision is the result of a Governor.Check call.
type Decision struct {
	Outcome Outcome

	// RuleID/RuleName identify the rule that produced this decision, empty
	// when no rule matched (an implicit Allowed).
	RuleID   string
	RuleName string

	// Reason is the short cause reported for a Rejected or Banned decision
	// (e.g. "rate limit exceeded", "target is banned").
	Reason string

	// Ban is populated only when Outcome == Banned.
	Ban *flowtype.BanDetail
}

// BannedUntil reports the ban's expiry, the zero time when Outcome != Banned.
func (d Decision) BannedUntil() time.Time {
	if d.Ban == nil {
		return time.Time{}
	}
	return d.Ban.ExpiresAt
}

// BanTimes reports how many times the target has been banned, 0 when
// Outcome != Banned.
func (d Decision) BanTimes() uint32 {
	if d.Ban == nil {
		return 0
	}
	return d.Ban.BanTimes
}
