// Package cache implements the L2/L3 multi-tier cache of spec §4.B/§4.C.
package cache

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flowguard/flowguard/internal/flowerr"
)

const (
	// MinShards is the floor spec §4.B mandates ("sharded associative map
	// (≥16 shards)").
	MinShards = 16

	defaultEvictionThreshold = 0.90
	defaultEvictionBatch     = 16
	defaultSweepInterval     = 60 * time.Second
	defaultLoadTimeout       = 5 * time.Second
	sentinelTTL              = 60 * time.Second
)

// L2Options configures an L2 cache.
type L2Options struct {
	Capacity          int
	Shards            int
	EvictionThreshold float64
	EvictionBatch     int
	SweepInterval     time.Duration
	LoadTimeout       time.Duration
}

func (o *L2Options) setDefaults() {
	if o.Shards < MinShards {
		o.Shards = MinShards
	}
	if o.EvictionThreshold <= 0 {
		o.EvictionThreshold = defaultEvictionThreshold
	}
	if o.EvictionBatch <= 0 {
		o.EvictionBatch = defaultEvictionBatch
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = defaultSweepInterval
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = defaultLoadTimeout
	}
}

type shard struct {
	mu       sync.Mutex
	data     map[string]*entry
	capacity int
}

// L2 is the bounded, concurrent, sharded cache of spec §4.B. Grounded on
// other_examples' IvanBrykalov/shardcache (sharded map + pluggable policy +
// golang.org/x/sync/singleflight-style GetOrLoad coalescing), adapted from a
// generic K,V cache to the spec's fixed string-key / []byte-value shape with
// TTL and the spec's specific eviction ranking (ascending access_count, then
// ascending last_accessed) instead of a doubly-linked LRU list.
type L2 struct {
	opt    L2Options
	shards []*shard
	sf     singleflight.Group
	now    func() time.Time

	hits, misses, expirations, evictions, writes atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewL2 constructs an L2 cache and starts its background sweep goroutine.
func NewL2(opt L2Options) *L2 {
	return newL2(opt, time.Now)
}

func newL2(opt L2Options, now func() time.Time) *L2 {
	opt.setDefaults()
	perShard := (opt.Capacity + opt.Shards - 1) / opt.Shards
	if perShard <= 0 {
		perShard = 1
	}
	shards := make([]*shard, opt.Shards)
	for i := range shards {
		shards[i] = &shard{data: make(map[string]*entry), capacity: perShard}
	}
	c := &L2{opt: opt, shards: shards, now: now, stopCh: make(chan struct{})}
	go c.sweepLoop()
	return c
}

// Close stops the background sweep goroutine.
func (c *L2) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *L2) shardFor(key string) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum64()%uint64(len(c.shards))]
}

// Get implements spec §4.B's get(key): a hit on an expired entry counts as a
// miss and evicts the entry. Sentinel hits (cache-penetration markers) never
// leak to callers.
func (c *L2) Get(key string) ([]byte, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	e, ok := s.data[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	if e.expired(now) {
		delete(s.data, key)
		s.mu.Unlock()
		c.expirations.Add(1)
		c.misses.Add(1)
		return nil, false
	}
	e.accessCount++
	e.lastAccessed = now
	sentinel := e.sentinel
	val := e.value
	s.mu.Unlock()

	if sentinel {
		c.hits.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return val, true
}

// Set implements spec §4.B's set(key, value, ttl?): eviction runs before
// insertion when the shard's pre-insertion load factor exceeds the
// configured threshold.
func (c *L2) Set(key string, value []byte, ttl time.Duration) {
	c.set(key, value, ttl, false)
}

func (c *L2) set(key string, value []byte, ttl time.Duration, sentinel bool) {
	s := c.shardFor(key)
	now := c.now()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	if _, exists := s.data[key]; !exists {
		c.evictIfNeeded(s)
	}
	s.data[key] = &entry{
		value:        value,
		expiresAt:    expiresAt,
		lastAccessed: now,
		sentinel:     sentinel,
	}
	s.mu.Unlock()
	c.writes.Add(1)
}

// evictIfNeeded must be called with s.mu held. It evicts up to
// EvictionBatch entries, ranked by ascending access_count then ascending
// last_accessed, when the shard's current load factor exceeds
// EvictionThreshold.
func (c *L2) evictIfNeeded(s *shard) {
	if float64(len(s.data)) <= float64(s.capacity)*c.opt.EvictionThreshold {
		return
	}
	type candidate struct {
		key string
		e   *entry
	}
	candidates := make([]candidate, 0, len(s.data))
	for k, e := range s.data {
		candidates = append(candidates, candidate{k, e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].e.accessCount != candidates[j].e.accessCount {
			return candidates[i].e.accessCount < candidates[j].e.accessCount
		}
		return candidates[i].e.lastAccessed.Before(candidates[j].e.lastAccessed)
	})

	batch := c.opt.EvictionBatch
	if batch > len(candidates) {
		batch = len(candidates)
	}
	for i := 0; i < batch; i++ {
		delete(s.data, candidates[i].key)
	}
	c.evictions.Add(uint64(batch))
}

// Delete implements spec §4.B's delete(key).
func (c *L2) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Loader loads a value for key on an L2 miss. Returning (nil, false, nil)
// signals "not found" (distinct from an error), enabling cache-penetration
// sentinel insertion.
type Loader func(ctx context.Context) (value []byte, found bool, err error)

// GetOrLoad implements spec §4.B's get_or_load single-flight semantics:
// concurrent callers for the same key collapse into one Loader invocation;
// failed loads are not cached; sentinelOnMiss optionally stores a
// short-TTL penetration-protection marker when the loader reports not-found.
func (c *L2) GetOrLoad(ctx context.Context, key string, ttl time.Duration, sentinelOnMiss bool, load Loader) ([]byte, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	timeout := c.opt.LoadTimeout
	type result struct {
		value []byte
		found bool
	}

	done := make(chan struct{})
	var res result
	var loadErr error

	go func() {
		v, err, _ := c.sf.Do(key, func() (interface{}, error) {
			val, found, lerr := load(ctx)
			if lerr != nil {
				return nil, lerr
			}
			if !found {
				if sentinelOnMiss {
					c.set(key, nil, sentinelTTL, true)
				}
				return result{found: false}, nil
			}
			c.set(key, val, ttl, false)
			return result{value: val, found: true}, nil
		})
		if err != nil {
			loadErr = err
		} else {
			res = v.(result)
		}
		close(done)
	}()

	select {
	case <-done:
		if loadErr != nil {
			return nil, loadErr
		}
		if !res.found {
			return nil, nil
		}
		return res.value, nil
	case <-time.After(timeout):
		return nil, flowerr.New(flowerr.LoadTimeout, "timed out waiting for in-flight cache load").
			WithComponent(flowerr.ComponentCache).WithField("key", key)
	case <-ctx.Done():
		return nil, flowerr.New(flowerr.LoadCancelled, "cache load cancelled").
			WithComponent(flowerr.ComponentCache).WithCause(ctx.Err())
	}
}

func (c *L2) sweepLoop() {
	ticker := time.NewTicker(c.opt.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep removes expired entries from every shard. It is the background
// task spec §4.B requires ("periodic sweep ... removes expired entries and
// performs proactive LRU trimming").
func (c *L2) sweep() {
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.data {
			if e.expired(now) {
				delete(s.data, k)
				c.expirations.Add(1)
			}
		}
		c.evictIfNeeded(s)
		s.mu.Unlock()
	}
}

// Stats returns an eventually-consistent snapshot of the monotonic counters.
func (c *L2) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Expirations: c.expirations.Load(),
		Evictions:   c.evictions.Load(),
		Writes:      c.writes.Load(),
	}
}
