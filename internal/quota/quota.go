// Package quota implements the windowed quota controller of spec §4.K: a
// special limiter keyed on (user_id, resource) with sliding-by-elapsed-window
// consumption, optional overdraft, and deduplicated threshold alerting.
package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowguard/flowguard/internal/flowerr"
	"github.com/flowguard/flowguard/internal/flowtype"
)

// Config configures one quota rule.
type Config struct {
	Limit            uint64
	Window           time.Duration
	AllowOverdraft   bool
	OverdraftPercent float64
	// AlertThresholds are usage-percent values (0-100) evaluated in
	// ascending order; each crossing is deduplicated independently.
	AlertThresholds []float64
	DedupWindow     time.Duration
}

func (c Config) totalLimit() uint64 {
	if !c.AllowOverdraft || c.OverdraftPercent <= 0 {
		return c.Limit
	}
	overdraft := float64(c.Limit) * c.OverdraftPercent / 100
	return c.Limit + uint64(overdraft)
}

type entry struct {
	mu    sync.Mutex
	state flowtype.QuotaState
	// alerted tracks the last time each threshold fired for this key, for
	// dedup_window suppression.
	alerted map[float64]time.Time
}

// Controller is the Quota Controller of spec §4.K. Grounded on the teacher's
// pkg/events.EventBus for the alert fan-out and on the spec's own window-reset
// algorithm (no direct teacher analog existed for windowed quota consumption).
type Controller struct {
	cfg   Config
	bus   *bus
	now   func() time.Time
	mu    sync.Mutex
	byKey map[string]*entry
}

// New creates a Controller with the given config and alert channels.
func New(cfg Config, logger *zap.Logger, channels ...Channel) *Controller {
	return newController(cfg, logger, time.Now, channels...)
}

func newController(cfg Config, logger *zap.Logger, now func() time.Time, channels ...Channel) *Controller {
	thresholds := append([]float64(nil), cfg.AlertThresholds...)
	sort.Float64s(thresholds)
	cfg.AlertThresholds = thresholds
	return &Controller{
		cfg:   cfg,
		bus:   newBus(logger, channels...),
		now:   now,
		byKey: make(map[string]*entry),
	}
}

func key(userID, resource string) string {
	return userID + "\x00" + resource
}

func (c *Controller) entryFor(k string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byKey[k]
	if !ok {
		e = &entry{alerted: make(map[float64]time.Time)}
		c.byKey[k] = e
	}
	return e
}

// Consume implements spec §4.K's consume(user_id, resource, cost) algorithm.
func (c *Controller) Consume(ctx context.Context, userID, resource string, cost uint64) (flowtype.QuotaResult, error) {
	if cost < 1 || cost > 1_000_000 {
		return flowtype.QuotaResult{}, flowerr.New(flowerr.InvalidCost, "quota cost out of bounds").
			WithComponent(flowerr.ComponentQuota)
	}

	e := c.entryFor(key(userID, resource))
	e.mu.Lock()

	now := c.now()
	if e.state.WindowStart.IsZero() {
		e.state = flowtype.QuotaState{WindowStart: now, WindowEnd: now.Add(c.cfg.Window)}
	}
	if !now.Before(e.state.WindowEnd) {
		c.resetWindow(&e.state, now)
	}

	total := c.cfg.totalLimit()
	if e.state.Consumed+cost > total {
		remaining := uint64(0)
		if total > e.state.Consumed {
			remaining = total - e.state.Consumed
		}
		e.mu.Unlock()
		return flowtype.QuotaResult{Allowed: false, Remaining: remaining, Alert: false}, nil
	}

	e.state.Consumed += cost
	remaining := total - e.state.Consumed

	alerts := c.crossedThresholds(e, total)
	e.mu.Unlock()

	for _, a := range alerts {
		a.UserID, a.Resource = userID, resource
		go c.bus.publish(context.WithoutCancel(ctx), a)
	}

	return flowtype.QuotaResult{Allowed: true, Remaining: remaining, Alert: len(alerts) > 0}, nil
}

// resetWindow implements spec §4.K's sliding-by-elapsed-window reset: a full
// rollover zeroes consumption and realigns the window; a partial straddle
// retains a proportional fraction of consumed usage.
func (c *Controller) resetWindow(state *flowtype.QuotaState, now time.Time) {
	if c.cfg.Window <= 0 {
		state.WindowStart, state.WindowEnd = now, now.Add(time.Second)
		state.Consumed = 0
		return
	}

	elapsed := now.Sub(state.WindowEnd)
	elapsedWindows := int64(elapsed / c.cfg.Window)

	if elapsedWindows >= 1 {
		state.WindowStart = now
		state.WindowEnd = now.Add(c.cfg.Window)
		state.Consumed = 0
		return
	}

	progress := float64(now.Sub(state.WindowEnd)) / float64(c.cfg.Window)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	retained := float64(state.Consumed) * (1 - progress)
	state.Consumed = uint64(retained)
	state.WindowStart = now
	state.WindowEnd = now.Add(c.cfg.Window)
}

// crossedThresholds evaluates ascending alert thresholds against current
// usage, deduplicating per-threshold within DedupWindow, and returns the
// Alert payloads to publish (UserID/Resource left blank for the caller to
// fill in, since entry has no notion of its own key).
func (c *Controller) crossedThresholds(e *entry, total uint64) []Alert {
	if len(c.cfg.AlertThresholds) == 0 || total == 0 {
		return nil
	}
	now := c.now()
	usagePct := float64(e.state.Consumed) / float64(total) * 100

	var alerts []Alert
	for _, t := range c.cfg.AlertThresholds {
		if usagePct < t {
			continue
		}
		last, seen := e.alerted[t]
		if seen && now.Sub(last) < c.cfg.DedupWindow {
			continue
		}
		e.alerted[t] = now
		alerts = append(alerts, Alert{
			Threshold:   t,
			UsagePct:    usagePct,
			Consumed:    e.state.Consumed,
			Limit:       c.cfg.Limit,
			TriggeredAt: now,
		})
	}
	return alerts
}
