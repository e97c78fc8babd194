package flowguard

import "sync/atomic"

// Stats is the Governor's lock-free monotonic counters (spec §4.J: "Stats
// are lock-free monotonic atomics").
type Stats struct {
	totalRequests    atomic.Uint64
	allowedRequests  atomic.Uint64
	rejectedRequests atomic.Uint64
	bannedRequests   atomic.Uint64
	errors           atomic.Uint64
}

// Counters is an immutable snapshot of Stats.
type Counters struct {
	TotalRequests, AllowedRequests, RejectedRequests, BannedRequests, Errors uint64
}

// Snapshot reads the current counters.
func (s *Stats) Snapshot() Counters {
	return Counters{
		TotalRequests:    s.totalRequests.Load(),
		AllowedRequests:  s.allowedRequests.Load(),
		RejectedRequests: s.rejectedRequests.Load(),
		BannedRequests:   s.bannedRequests.Load(),
		Errors:           s.errors.Load(),
	}
}

func (s *Stats) recordOutcome(o Outcome) {
	switch o {
	case Allowed:
		s.allowedRequests.Add(1)
	case Rejected:
		s.rejectedRequests.Add(1)
	case Banned:
		s.bannedRequests.Add(1)
	}
}
