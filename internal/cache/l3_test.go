package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowguard/flowguard/internal/circuit"
	"github.com/flowguard/flowguard/internal/fallback"
)

type fakeRemote struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string][]byte)}
}

func (f *fakeRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, false, errors.New("remote unavailable")
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return errors.New("remote unavailable")
	}
	f.data[key] = value
	return nil
}

func newTestL3(t *testing.T, remote RemoteStore) *L3 {
	t.Helper()
	return newTestL3WithPolicy(t, remote, fallback.FailOpen)
}

func newTestL3WithPolicy(t *testing.T, remote RemoteStore, policy fallback.Policy) *L3 {
	t.Helper()
	l2 := newL2(L2Options{Capacity: 1000}, time.Now)
	t.Cleanup(l2.Close)
	breaker := circuit.NewBreaker(circuit.Options{FailureThreshold: 2, Timeout: time.Minute})
	fb := fallback.NewManager(map[fallback.Component]fallback.Policy{
		fallback.ComponentL3Cache: policy,
	})
	l3 := NewL3(l2, remote, breaker, fb, L3Options{RecoveryProbeInterval: time.Hour})
	t.Cleanup(l3.Close)
	return l3
}

func TestL3_ReadsThroughToRemoteOnL2Miss(t *testing.T) {
	remote := newFakeRemote()
	remote.data["k"] = []byte("from-remote")
	l3 := newTestL3(t, remote)

	v, err := l3.Get(context.Background(), "k", time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-remote"), v)
}

func TestL3_FallsBackToLoaderWhenRemoteMisses(t *testing.T) {
	remote := newFakeRemote()
	l3 := newTestL3(t, remote)

	v, err := l3.Get(context.Background(), "k", time.Minute, func(ctx context.Context) ([]byte, bool, error) {
		return []byte("from-loader"), true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("from-loader"), v)
}

func TestL3_DegradesOnRemoteFailureAndSkipsL3(t *testing.T) {
	remote := newFakeRemote()
	remote.failGet = true
	l3 := newTestL3(t, remote)

	loaderCalls := 0
	loader := func(ctx context.Context) ([]byte, bool, error) {
		loaderCalls++
		return []byte("from-loader"), true, nil
	}

	_, err := l3.Get(context.Background(), "k1", time.Minute, loader)
	require.NoError(t, err)
	assert.True(t, l3.Degraded())

	_, err = l3.Get(context.Background(), "k2", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 2, loaderCalls, "both keys should have gone straight to the loader once degraded")
}

func TestL3_FailClosedPolicyRejectsInsteadOfDegrading(t *testing.T) {
	remote := newFakeRemote()
	remote.failGet = true
	l3 := newTestL3WithPolicy(t, remote, fallback.FailClosed)

	loaderCalls := 0
	loader := func(ctx context.Context) ([]byte, bool, error) {
		loaderCalls++
		return []byte("from-loader"), true, nil
	}

	_, err := l3.Get(context.Background(), "k", time.Minute, loader)
	require.Error(t, err)
	assert.Equal(t, 0, loaderCalls, "FailClosed must surface the error, not fall through to the loader")
	assert.True(t, l3.Degraded())
}

func TestL3_SetWritesThroughBothTiers(t *testing.T) {
	remote := newFakeRemote()
	l3 := newTestL3(t, remote)

	l3.Set(context.Background(), "k", []byte("v"), time.Minute)

	v, ok := l3.l2.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	rv, found, err := remote.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), rv)
}

func TestL3_RecoveryRequiresSuccessfulRoundTrip(t *testing.T) {
	remote := newFakeRemote()
	remote.failGet = true
	l3 := newTestL3(t, remote)
	l3.opt.RecoveryProbeInterval = time.Hour // don't race the background loop

	_, _ = l3.Get(context.Background(), "k", time.Minute, func(ctx context.Context) ([]byte, bool, error) {
		return nil, false, nil
	})
	assert.True(t, l3.Degraded())

	l3.probeRecovery()
	assert.True(t, l3.Degraded(), "probe should not recover while remote still fails")

	remote.failGet = false
	l3.probeRecovery()
	assert.False(t, l3.Degraded())
}
