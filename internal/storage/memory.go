// Package storage provides the concrete persistence backends (in-memory,
// Redis, Postgres) behind internal/ban.Store and internal/cache.RemoteStore.
// Grounded on the teacher's pkg/store package: the same interface +
// in-memory + background-cleanup-goroutine shape, generalized from a
// token store to a ban-record/cache-entry store.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/flowguard/flowguard/internal/ban"
	"github.com/flowguard/flowguard/internal/flowtype"
)

// MemoryBanStore is an in-memory internal/ban.Store, suitable for tests and
// single-process deployments. Grounded on pkg/store.MemoryStore: a
// map-backed store, with IsBanned/History reading straight off the record
// map rather than a separate cleanup goroutine (PurgeExpired is driven by
// ban.Manager's own auto-unban loop instead).
type MemoryBanStore struct {
	mu      sync.RWMutex
	records map[string]flowtype.BanRecord
	now     func() time.Time
}

// NewMemoryBanStore creates an empty MemoryBanStore.
func NewMemoryBanStore() *MemoryBanStore {
	return newMemoryBanStore(time.Now)
}

func newMemoryBanStore(now func() time.Time) *MemoryBanStore {
	return &MemoryBanStore{records: make(map[string]flowtype.BanRecord), now: now}
}

func (s *MemoryBanStore) Save(ctx context.Context, record flowtype.BanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Target.Key()] = record
	return nil
}

func (s *MemoryBanStore) IsBanned(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[target.Key()]
	if !ok || !r.Active(s.now()) {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryBanStore) Remove(ctx context.Context, target flowtype.BanTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, target.Key())
	return nil
}

func (s *MemoryBanStore) History(ctx context.Context, target flowtype.BanTarget) (*ban.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[target.Key()]
	if !ok {
		return nil, nil
	}
	return &ban.History{BanTimes: r.BanTimes}, nil
}

func (s *MemoryBanStore) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, r := range s.records {
		if !r.Active(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// cacheEntry is a single stored value with its absolute expiry, used by
// MemoryCacheStore.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCacheStore is an in-memory internal/cache.RemoteStore, useful as an
// L3 backend in tests or single-process deployments where a real remote
// tier isn't available. Grounded on the same pkg/store.MemoryStore shape
// as MemoryBanStore, adapted to byte-slice values with a TTL.
type MemoryCacheStore struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

// NewMemoryCacheStore creates an empty MemoryCacheStore.
func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{data: make(map[string]cacheEntry), now: time.Now}
}

func (s *MemoryCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok || s.now().After(e.expiresAt) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (s *MemoryCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cacheEntry{value: cp, expiresAt: s.now().Add(ttl)}
	return nil
}
