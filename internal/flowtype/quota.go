package flowtype

import "time"

// QuotaState is the per-(user,resource) windowed consumption record (spec §3).
// Invariant: Consumed <= Limit+Overdraft; the window is always "current"
// after any read (the Quota Controller normalizes it on access).
type QuotaState struct {
	Consumed    uint64
	WindowStart time.Time
	WindowEnd   time.Time
}

// QuotaResult is the outcome of a Consume call (spec §4.K).
type QuotaResult struct {
	Allowed   bool
	Remaining uint64
	Alert     bool
}
