package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingChannel) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestConsume_AllowsUpToTotalLimitThenRejects(t *testing.T) {
	clock := time.Now()
	cfg := Config{Limit: 10, Window: time.Minute}
	c := newController(cfg, nil, func() time.Time { return clock })
	ctx := context.Background()

	res, err := c.Consume(ctx, "u1", "api", 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.EqualValues(t, 0, res.Remaining)

	res, err = c.Consume(ctx, "u1", "api", 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestConsume_OverdraftExtendsLimit(t *testing.T) {
	clock := time.Now()
	cfg := Config{Limit: 10, Window: time.Minute, AllowOverdraft: true, OverdraftPercent: 50}
	c := newController(cfg, nil, func() time.Time { return clock })
	ctx := context.Background()

	res, err := c.Consume(ctx, "u1", "api", 14)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "total limit should be 10 + 50%% = 15")

	res, err = c.Consume(ctx, "u1", "api", 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestConsume_FullRolloverResetsConsumption(t *testing.T) {
	clock := time.Now()
	cfg := Config{Limit: 5, Window: time.Minute}
	c := newController(cfg, nil, func() time.Time { return clock })
	ctx := context.Background()

	_, err := c.Consume(ctx, "u1", "api", 5)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	res, err := c.Consume(ctx, "u1", "api", 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "window rollover should have reset consumption")
}

func TestConsume_PartialStraddleRetainsFraction(t *testing.T) {
	clock := time.Now()
	cfg := Config{Limit: 10, Window: 10 * time.Second}
	c := newController(cfg, nil, func() time.Time { return clock })
	ctx := context.Background()

	_, err := c.Consume(ctx, "u1", "api", 10)
	require.NoError(t, err)

	clock = clock.Add(15 * time.Second) // 5s past window_end: boundary straddled, no full window elapsed
	res, err := c.Consume(ctx, "u1", "api", 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "retained consumption should have decayed by ~half, leaving room")
	assert.EqualValues(t, 4, res.Remaining, "half of the 10 consumed is retained, plus the new 1")
}

func TestConsume_AlertsDeduplicatedWithinWindow(t *testing.T) {
	clock := time.Now()
	ch := &recordingChannel{}
	cfg := Config{Limit: 10, Window: time.Minute, AlertThresholds: []float64{50, 90}, DedupWindow: time.Hour}
	c := newController(cfg, nil, func() time.Time { return clock }, ch)
	ctx := context.Background()

	res, err := c.Consume(ctx, "u1", "api", 5)
	require.NoError(t, err)
	assert.True(t, res.Alert)

	res, err = c.Consume(ctx, "u1", "api", 1)
	require.NoError(t, err)
	assert.False(t, res.Alert, "50%% threshold already fired and is within dedup window")

	time.Sleep(10 * time.Millisecond) // let the async publish land
	assert.Equal(t, 1, ch.count())
}

func TestConsume_InvalidCost(t *testing.T) {
	c := New(Config{Limit: 10, Window: time.Minute}, nil)
	_, err := c.Consume(context.Background(), "u1", "api", 0)
	assert.Error(t, err)
}
