package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/flowguard/flowguard/internal/ban"
	"github.com/flowguard/flowguard/internal/flowerr"
	"github.com/flowguard/flowguard/internal/flowtype"
)

// PostgresConfig configures a Postgres-backed ban store.
type PostgresConfig struct {
	DSN       string
	TableName string // defaults to "flowguard_bans"
}

func (c PostgresConfig) tableName() string {
	if c.TableName == "" {
		return "flowguard_bans"
	}
	return c.TableName
}

// PostgresBanStore implements internal/ban.Store over a Postgres table,
// for deployments that want the ban log to survive a process restart and
// be queryable outside the process (spec §4.D's durability is left to the
// storage layer, per spec §1's out-of-scope "Redis/PostgreSQL wire
// drivers" note — this file is the concrete wiring that note defers to).
// Grounded on the teacher's pkg/store interface shape; the teacher itself
// never shipped a Postgres token store, so the SQL here follows the
// column layout implied by flowtype.BanRecord/BanDetail directly.
type PostgresBanStore struct {
	db    *sql.DB
	table string
}

// NewPostgresBanStore opens a connection pool against cfg.DSN.
func NewPostgresBanStore(cfg PostgresConfig) (*PostgresBanStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, flowerr.New(flowerr.StorageUnavailable, "failed to open postgres connection").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return &PostgresBanStore{db: db, table: cfg.tableName()}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresBanStore) Close() error { return s.db.Close() }

// Schema returns the DDL statement callers should run once via migration
// tooling before using this store; flowguard does not run migrations
// itself (spec §1 places config/migration tooling out of core scope).
func (s *PostgresBanStore) Schema() string {
	return `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	target_kind   SMALLINT NOT NULL,
	target_value  TEXT NOT NULL,
	ban_times     INTEGER NOT NULL,
	duration_ns   BIGINT NOT NULL,
	banned_at     TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	is_manual     BOOLEAN NOT NULL,
	reason        TEXT NOT NULL,
	PRIMARY KEY (target_kind, target_value)
)`
}

func (s *PostgresBanStore) Save(ctx context.Context, record flowtype.BanRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (target_kind, target_value, ban_times, duration_ns, banned_at, expires_at, is_manual, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (target_kind, target_value) DO UPDATE SET
			ban_times = EXCLUDED.ban_times,
			duration_ns = EXCLUDED.duration_ns,
			banned_at = EXCLUDED.banned_at,
			expires_at = EXCLUDED.expires_at,
			is_manual = EXCLUDED.is_manual,
			reason = EXCLUDED.reason
	`, int(record.Target.Kind), record.Target.Value, record.BanTimes, record.Duration.Nanoseconds(),
		record.BannedAt, record.ExpiresAt, record.IsManual, record.Reason)
	if err != nil {
		return flowerr.New(flowerr.StorageQueryFailed, "failed to persist ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return nil
}

func (s *PostgresBanStore) IsBanned(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanRecord, error) {
	record, err := s.scanOne(ctx, target)
	if err != nil {
		return nil, err
	}
	if record == nil || !record.Active(time.Now()) {
		return nil, nil
	}
	return record, nil
}

func (s *PostgresBanStore) History(ctx context.Context, target flowtype.BanTarget) (*ban.History, error) {
	record, err := s.scanOne(ctx, target)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	return &ban.History{BanTimes: record.BanTimes}, nil
}

func (s *PostgresBanStore) scanOne(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ban_times, duration_ns, banned_at, expires_at, is_manual, reason
		FROM `+s.table+` WHERE target_kind = $1 AND target_value = $2
	`, int(target.Kind), target.Value)

	var record flowtype.BanRecord
	var durationNs int64
	record.Target = target
	err := row.Scan(&record.BanTimes, &durationNs, &record.BannedAt, &record.ExpiresAt, &record.IsManual, &record.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, flowerr.New(flowerr.StorageQueryFailed, "failed to read ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	record.Duration = time.Duration(durationNs)
	return &record, nil
}

func (s *PostgresBanStore) Remove(ctx context.Context, target flowtype.BanTarget) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE target_kind = $1 AND target_value = $2`,
		int(target.Kind), target.Value)
	if err != nil {
		return flowerr.New(flowerr.StorageQueryFailed, "failed to remove ban record").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return nil
}

func (s *PostgresBanStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE expires_at <= $1`, time.Now())
	if err != nil {
		return 0, flowerr.New(flowerr.StorageQueryFailed, "failed to purge expired ban records").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, flowerr.New(flowerr.StorageQueryFailed, "failed to read purge row count").
			WithComponent(flowerr.ComponentStorage).WithCause(err)
	}
	return int(n), nil
}
