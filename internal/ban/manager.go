// Package ban implements the Ban Manager and Parallel Ban Checker of
// spec §4.D/§4.E.
package ban

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flowguard/flowguard/internal/flowerr"
	"github.com/flowguard/flowguard/internal/flowtype"
	"github.com/flowguard/flowguard/internal/redact"
)

// BackoffConfig is the four-tier exponential backoff schedule of spec §4.D.
type BackoffConfig struct {
	First, Second, Third, Fourth time.Duration
	Max                          time.Duration
}

// DefaultBackoffConfig returns the spec's own defaults (60s/300s/1800s/
// 7200s, clamped to a 86400s max), pinned in internal/flowtype/ban.go.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		First:  flowtype.FirstBanDuration,
		Second: flowtype.SecondBanDuration,
		Third:  flowtype.ThirdBanDuration,
		Fourth: flowtype.FourthBanDuration,
		Max:    flowtype.MaxBanDuration,
	}
}

// CalculateDuration implements spec §4.D's calculate_duration(ban_times):
// the nth tier for the 1st to 3rd ban, the fourth tier for the 4th and
// later, capped at Max.
func (c BackoffConfig) CalculateDuration(banTimes uint32) time.Duration {
	var d time.Duration
	switch banTimes {
	case 1:
		d = c.First
	case 2:
		d = c.Second
	case 3:
		d = c.Third
	default:
		d = c.Fourth
	}
	if d > c.Max {
		d = c.Max
	}
	return d
}

// Config configures a Manager.
type Config struct {
	Backoff           BackoffConfig
	EnableAutoUnban   bool
	AutoUnbanInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoffConfig()
	}
	if c.AutoUnbanInterval <= 0 {
		c.AutoUnbanInterval = 60 * time.Second
	}
}

// Manager is the Ban Manager of spec §4.D. Grounded closely on
// original_source/src/ban_manager.rs's BanManager: same CRUD verb names
// (create_ban/read_ban/update_ban/delete_ban), same backoff tiers, same
// auto-unban background loop shape, translated from tokio's RwLock+
// JoinHandle into Go's sync.RWMutex + a stop channel (matching the
// teacher's pkg/store.MemoryStore cleanup-goroutine idiom).
type Manager struct {
	store Store
	tel   *zap.Logger

	mu  sync.RWMutex
	cfg Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// sweepFailureLog throttles the auto-unban sweep's failure warning to
	// at most once per minute, so a sustained store outage logs one
	// message per interval instead of flooding on every tick.
	sweepFailureLog rate.Sometimes

	now func() time.Time
}

// New creates a Manager and starts its auto-unban loop if enabled.
func New(store Store, cfg Config, logger *zap.Logger) *Manager {
	return newManager(store, cfg, logger, time.Now)
}

func newManager(store Store, cfg Config, logger *zap.Logger, now func() time.Time) *Manager {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:           store,
		tel:             logger,
		cfg:             cfg,
		stopCh:          make(chan struct{}),
		sweepFailureLog: rate.Sometimes{Interval: time.Minute},
		now:             now,
	}
	if cfg.EnableAutoUnban {
		m.wg.Add(1)
		go m.autoUnbanLoop()
	}
	return m
}

// Stop terminates the auto-unban background loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig atomically replaces the Manager's configuration.
func (m *Manager) UpdateConfig(cfg Config) {
	cfg.setDefaults()
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// CreateBan implements spec §4.D's create_ban algorithm.
func (m *Manager) CreateBan(ctx context.Context, target flowtype.BanTarget, reason string, source flowtype.BanSource, metadata map[string]string, duration *time.Duration) (*flowtype.BanDetail, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	if err := validateReason(reason); err != nil {
		return nil, err
	}

	history, err := m.store.History(ctx, target)
	if err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to read ban history").
			WithComponent(flowerr.ComponentBan).WithCause(err)
	}
	banTimes := uint32(1)
	if history != nil {
		banTimes = history.BanTimes + 1
	}

	cfg := m.config()
	dur := cfg.Backoff.CalculateDuration(banTimes)
	if duration != nil {
		dur = *duration
	}

	now := m.now()
	record := flowtype.BanRecord{
		Target:    target,
		BanTimes:  banTimes,
		Duration:  dur,
		BannedAt:  now,
		ExpiresAt: now.Add(dur),
		IsManual:  source.Manual,
		Reason:    reason,
	}

	if err := m.store.Save(ctx, record); err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to persist ban record").
			WithComponent(flowerr.ComponentBan).WithCause(err)
	}

	detail := &flowtype.BanDetail{
		BanRecord: record,
		ID:        uuid.NewString(),
		Source:    source,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.tel.Info("ban created",
		zap.String("target_kind", target.Kind.String()),
		zap.String("target", redact.Identifier(target.Value)),
		zap.Uint32("ban_times", banTimes),
		zap.Duration("duration", dur),
	)
	return detail, nil
}

// ReadBan implements spec §4.D's read_ban: returns the active record iff
// expires_at > now; expired records are treated as absent.
func (m *Manager) ReadBan(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanDetail, error) {
	record, err := m.store.IsBanned(ctx, target)
	if err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to read ban record").
			WithComponent(flowerr.ComponentBan).WithCause(err)
	}
	if record == nil {
		return nil, nil
	}
	return &flowtype.BanDetail{BanRecord: *record, Source: flowtype.BanSource{Manual: record.IsManual}}, nil
}

// UpdateBan implements spec §4.D's update_ban: read-modify-write, silently
// no-op when no active record exists.
func (m *Manager) UpdateBan(ctx context.Context, target flowtype.BanTarget, reason *string, duration *time.Duration, metadata map[string]string) (*flowtype.BanDetail, error) {
	current, err := m.store.IsBanned(ctx, target)
	if err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to read ban record").
			WithComponent(flowerr.ComponentBan).WithCause(err)
	}
	if current == nil {
		return nil, nil
	}

	now := m.now()
	record := *current
	if reason != nil {
		if err := validateReason(*reason); err != nil {
			return nil, err
		}
		record.Reason = *reason
	}
	if duration != nil {
		record.Duration = *duration
		record.ExpiresAt = now.Add(*duration)
	}

	if err := m.store.Save(ctx, record); err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to persist ban record").
			WithComponent(flowerr.ComponentBan).WithCause(err)
	}

	detail := &flowtype.BanDetail{
		BanRecord: record,
		Source:    flowtype.BanSource{Manual: record.IsManual},
		Metadata:  metadata,
		UpdatedAt: now,
	}
	return detail, nil
}

// DeleteBan implements spec §4.D's delete_ban: marks the active record
// inactive; idempotent.
func (m *Manager) DeleteBan(ctx context.Context, target flowtype.BanTarget, unbannedBy string) (bool, error) {
	record, err := m.store.IsBanned(ctx, target)
	if err != nil {
		return false, flowerr.New(flowerr.StorageQueryFailed, "failed to read ban record").
			WithComponent(flowerr.ComponentBan).WithCause(err)
	}
	if record == nil {
		return false, nil
	}
	if err := m.store.Remove(ctx, target); err != nil {
		return false, flowerr.New(flowerr.StorageQueryFailed, "failed to remove ban record").
			WithComponent(flowerr.ComponentBan).WithCause(err)
	}
	m.tel.Info("ban deleted", zap.String("target", redact.Identifier(target.Value)), zap.String("unbanned_by", unbannedBy))
	return true, nil
}

func (m *Manager) autoUnbanLoop() {
	defer m.wg.Done()
	interval := m.config().AutoUnbanInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runAutoUnban()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) runAutoUnban() {
	n, err := m.store.PurgeExpired(context.Background())
	if err != nil {
		m.sweepFailureLog.Do(func() {
			m.tel.Warn("auto-unban sweep failed", zap.Error(err))
		})
		return
	}
	if n > 0 {
		m.tel.Debug("auto-unban sweep purged expired records", zap.Int("count", n))
	}
}
