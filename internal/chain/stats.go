package chain

import "sync/atomic"

// NodeStats is a single node's lock-free counters (spec §4.I).
type NodeStats struct {
	attempts atomic.Uint64
	allowed  atomic.Uint64
	rejected atomic.Uint64
	errored  atomic.Uint64
}

// NodeCounters is an immutable snapshot of NodeStats.
type NodeCounters struct {
	Attempts, Allowed, Rejected, Errored uint64
}

// Snapshot reads the current counters.
func (s *NodeStats) Snapshot() NodeCounters {
	return NodeCounters{
		Attempts: s.attempts.Load(),
		Allowed:  s.allowed.Load(),
		Rejected: s.rejected.Load(),
		Errored:  s.errored.Load(),
	}
}

// ChainStats is the aggregate, lock-free chain-level counters (spec §4.I).
type ChainStats struct {
	total    atomic.Uint64
	allowed  atomic.Uint64
	rejected atomic.Uint64
	banned   atomic.Uint64
}

// ChainCounters is an immutable snapshot of ChainStats.
type ChainCounters struct {
	Total, Allowed, Rejected, Banned uint64
}

// Snapshot reads the current counters.
func (s *ChainStats) Snapshot() ChainCounters {
	return ChainCounters{
		Total:    s.total.Load(),
		Allowed:  s.allowed.Load(),
		Rejected: s.rejected.Load(),
		Banned:   s.banned.Load(),
	}
}
