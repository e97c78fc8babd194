package cache

import "time"

// entry is one resident record in an L2 shard (spec §3's CacheEntry).
// expiresAt.IsZero() means "no TTL".
type entry struct {
	value        []byte
	expiresAt    time.Time
	lastAccessed time.Time
	accessCount  uint64
	sentinel     bool // cache-penetration marker (spec §4.C); never surfaced to callers
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Stats are the monotonic counters spec §4.B requires L2 to expose.
// Readers observe eventually-consistent values (plain atomics, no lock).
type Stats struct {
	Hits        uint64
	Misses      uint64
	Expirations uint64
	Evictions   uint64
	Writes      uint64
}
