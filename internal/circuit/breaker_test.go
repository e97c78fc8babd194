package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowguard/flowguard/internal/flowerr"
)

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b := NewBreaker(Options{FailureThreshold: 3, Timeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, b.State())
	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, flowerr.CircuitOpen)
}

func TestBreaker_HalfOpenThenClosedOnSuccesses(t *testing.T) {
	clock := time.Now()
	b := newBreaker(Options{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Second}, func() time.Time { return clock })

	require.Error(t, b.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, b.State())

	clock = clock.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReturnsToOpen(t *testing.T) {
	clock := time.Now()
	b := newBreaker(Options{FailureThreshold: 1, Timeout: 10 * time.Second}, func() time.Time { return clock })

	require.Error(t, b.Execute(func() error { return errors.New("boom") }))
	clock = clock.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.Error(t, b.Execute(func() error { return errors.New("still broken") }))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenExhaustion(t *testing.T) {
	clock := time.Now()
	b := newBreaker(Options{FailureThreshold: 1, SuccessThreshold: 5, HalfOpenMaxCalls: 1, Timeout: 10 * time.Second}, func() time.Time { return clock })

	require.Error(t, b.Execute(func() error { return errors.New("boom") }))
	clock = clock.Add(11 * time.Second)

	require.NoError(t, b.Allow()) // consumes the single half-open probe slot
	err := b.Allow()
	assert.ErrorIs(t, err, flowerr.HalfOpenExhausted)
}

func TestBreaker_TotalCallsCountsRejections(t *testing.T) {
	b := NewBreaker(Options{FailureThreshold: 1, Timeout: time.Minute})
	_ = b.Execute(func() error { return errors.New("boom") })
	_ = b.Allow()
	_ = b.Allow()

	snap := b.Snapshot()
	assert.EqualValues(t, 3, snap.TotalCalls)
}

func TestBreaker_ResetZeroesCounters(t *testing.T) {
	b := NewBreaker(Options{FailureThreshold: 1, Timeout: time.Minute})
	_ = b.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.FailureCount)
	assert.Zero(t, snap.SuccessCount)
}
