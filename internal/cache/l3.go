package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowguard/flowguard/internal/circuit"
	"github.com/flowguard/flowguard/internal/fallback"
)

// RemoteStore is the external-I/O backend L3 sits in front of (e.g. Redis,
// Postgres). It is deliberately minimal: byte-slice get/set, matching the
// value shape L2 already uses.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// L3Options configures the layered cache.
type L3Options struct {
	RecoveryProbeInterval time.Duration
	SentinelOnMiss        bool
}

func (o *L3Options) setDefaults() {
	if o.RecoveryProbeInterval <= 0 {
		o.RecoveryProbeInterval = 5 * time.Second
	}
}

// L3 is the layered L2→L3→loader view of spec §4.C. Get and Set calls into
// the remote store are guarded by a Circuit Breaker and subject to the
// Fallback Manager's policy for L3Cache; the background recovery probe
// (probeRecovery) calls the remote store directly, outside both. No
// direct teacher file implements a layered cache; this is grounded on the
// L2 shardcache idiom (see l2.go) composed with internal/circuit and
// internal/fallback exactly as spec §9's "breaker innermost, fallback
// outermost" note prescribes.
type L3 struct {
	l2       *L2
	remote   RemoteStore
	breaker  *circuit.Breaker
	fallback *fallback.Manager
	opt      L3Options

	degraded atomic.Bool
	probeMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewL3 constructs a layered cache and starts its recovery-probe loop.
func NewL3(l2 *L2, remote RemoteStore, breaker *circuit.Breaker, fb *fallback.Manager, opt L3Options) *L3 {
	opt.setDefaults()
	l := &L3{
		l2:       l2,
		remote:   remote,
		breaker:  breaker,
		fallback: fb,
		opt:      opt,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	go l.recoveryLoop()
	return l
}

func (l *L3) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Get implements spec §4.C's layered read: L2, then L3 (if not degraded),
// then an optional loader.
func (l *L3) Get(ctx context.Context, key string, ttl time.Duration, loader Loader) ([]byte, error) {
	if v, ok := l.l2.Get(key); ok {
		return v, nil
	}

	if !l.degraded.Load() && l.remote != nil {
		v, found, err := l.getRemote(ctx, key)
		if err != nil {
			if l.fallback.PolicyFor(fallback.ComponentL3Cache) == fallback.FailClosed {
				return nil, err
			}
			// FailOpen/Degraded: fall through to the loader below.
		} else if found {
			l.l2.Set(key, v, ttl)
			return v, nil
		}
		// Remote confirmed absence (err == nil, !found); fall through to
		// the loader rather than treating a clean miss as a failure.
	}

	if loader == nil {
		return nil, nil
	}
	return l.l2.GetOrLoad(ctx, key, ttl, l.opt.SentinelOnMiss, loader)
}

// getRemote wraps the remote round-trip with the Circuit Breaker and the
// Fallback Manager's L3Cache policy, demoting the tier to degraded on
// failure per spec §4.C.
func (l *L3) getRemote(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := l.fallback.ExecuteWithFallback(fallback.ComponentL3Cache,
		func() (interface{}, error) {
			var (
				val   []byte
				found bool
			)
			breakerErr := l.breaker.Execute(func() error {
				v, f, rerr := l.remote.Get(ctx, key)
				if rerr != nil {
					return rerr
				}
				val, found = v, f
				return nil
			})
			if breakerErr != nil {
				return nil, breakerErr
			}
			return remoteGetResult{value: val, found: found}, nil
		},
		nil,
	)
	if err != nil {
		l.degraded.Store(true)
		return nil, false, err
	}
	r := result.(remoteGetResult)
	return r.value, r.found, nil
}

type remoteGetResult struct {
	value []byte
	found bool
}

// Set writes through both tiers; an L3 write error demotes the tier to
// degraded without failing the call (L2 is the tier callers can always
// rely on).
func (l *L3) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	l.l2.Set(key, value, ttl)

	if l.degraded.Load() || l.remote == nil {
		return
	}

	_, err := l.fallback.ExecuteWithFallback(fallback.ComponentL3Cache,
		func() (interface{}, error) {
			return nil, l.breaker.Execute(func() error {
				return l.remote.Set(ctx, key, value, ttl)
			})
		},
		nil,
	)
	if err != nil {
		l.degraded.Store(true)
	}
}

// Delete removes the key from L2; L3 entries are left to expire naturally
// via their own TTL (the remote store has no delete verb in spec §4.C).
func (l *L3) Delete(key string) {
	l.l2.Delete(key)
}

// Degraded reports whether the L3 tier is currently bypassed.
func (l *L3) Degraded() bool { return l.degraded.Load() }

// recoveryLoop periodically probes the remote store when degraded;
// recovery requires a successful round-trip (spec §4.C).
func (l *L3) recoveryLoop() {
	ticker := time.NewTicker(l.opt.RecoveryProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.probeRecovery()
		case <-l.stopCh:
			return
		}
	}
}

func (l *L3) probeRecovery() {
	if !l.degraded.Load() || l.remote == nil {
		return
	}
	l.probeMu.Lock()
	defer l.probeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := l.remote.Get(ctx, "__flowguard_recovery_probe__")
	if err == nil {
		l.degraded.Store(false)
	}
}
