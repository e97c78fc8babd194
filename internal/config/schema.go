package config

import "time"

// StorageBackend names the ban/quota durability backend, per spec §6's
// global.storage enum.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StorageRedis    StorageBackend = "redis"
	StoragePostgres StorageBackend = "postgres"
)

// CacheBackend names the L3 remote cache backend, per spec §6's
// global.cache enum.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

// MetricsSink names the metrics exporter, per spec §6's global.metrics enum.
type MetricsSink string

const (
	MetricsPrometheus     MetricsSink = "prometheus"
	MetricsOpenTelemetry  MetricsSink = "opentelemetry"
)

// Global holds the deployment-wide backend selection.
type Global struct {
	Storage StorageBackend `mapstructure:"storage" validate:"required,oneof=memory redis postgres"`
	Cache   CacheBackend   `mapstructure:"cache" validate:"required,oneof=memory redis"`
	Metrics MetricsSink    `mapstructure:"metrics" validate:"omitempty,oneof=prometheus opentelemetry"`
}

// MatcherSpec is the wire shape of a flowtype.Matcher, before compilation.
type MatcherSpec struct {
	Kind          string            `mapstructure:"kind" validate:"required,oneof=identifier_eq ip_range geo_country api_version device_type custom and or not"`
	IdentifierTag string            `mapstructure:"identifier_tag"`
	IdentifierVal string            `mapstructure:"identifier_val"`
	CIDRs         []string          `mapstructure:"cidrs"`
	Set           []string          `mapstructure:"set"`
	CustomName    string            `mapstructure:"custom_name"`
	CustomArgs    map[string]string `mapstructure:"custom_args"`
	Sub           []MatcherSpec     `mapstructure:"sub"`
}

// LimiterSpec is the wire shape of a flowtype.LimiterConfig.
type LimiterSpec struct {
	Kind string `mapstructure:"kind" validate:"required,oneof=token_bucket sliding_window fixed_window concurrency quota custom"`

	Capacity   uint64  `mapstructure:"capacity"`
	RefillRate float64 `mapstructure:"refill_rate"`

	Window time.Duration `mapstructure:"window"`
	Max    uint64        `mapstructure:"max"`

	MaxPermits uint64 `mapstructure:"max_permits"`

	QuotaType      string        `mapstructure:"quota_type"`
	QuotaLimit     uint64        `mapstructure:"quota_limit"`
	QuotaWindow    time.Duration `mapstructure:"quota_window"`
	QuotaOverdraft float64       `mapstructure:"quota_overdraft"`

	CustomName string `mapstructure:"custom_name"`
	CustomJSON string `mapstructure:"custom_json"`
}

// BanActionSpec is the wire shape of a flowtype.BanAction.
type BanActionSpec struct {
	Threshold         int           `mapstructure:"threshold" validate:"required,gt=0"`
	InitialDuration   time.Duration `mapstructure:"initial_duration" validate:"required,gt=0"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"required,gt=0"`
	MaxDuration       time.Duration `mapstructure:"max_duration" validate:"required,gt=0"`
	Scope             string        `mapstructure:"scope" validate:"required,oneof=ip user mac"`
}

// ActionSpec is the wire shape of a flowtype.Action.
type ActionSpec struct {
	OnExceed string         `mapstructure:"on_exceed" validate:"required,oneof=reject allow degrade"`
	Ban      *BanActionSpec `mapstructure:"ban" validate:"omitempty"`
}

// RuleSpec is the wire shape of a flowtype.Rule, as loaded from YAML/TOML/JSON
// per spec §6.
type RuleSpec struct {
	ID       string        `mapstructure:"id" validate:"required,max=100"`
	Name     string        `mapstructure:"name"`
	Priority uint16        `mapstructure:"priority"`
	Matchers []MatcherSpec `mapstructure:"matchers" validate:"required,min=1,dive"`
	Limiters []LimiterSpec `mapstructure:"limiters" validate:"required,min=1,dive"`
	Action   ActionSpec    `mapstructure:"action" validate:"required"`
}

// Config is the root configuration document, per spec §6.
type Config struct {
	Version   string     `mapstructure:"version" validate:"required"`
	Global    Global     `mapstructure:"global" validate:"required"`
	RuleSpecs []RuleSpec `mapstructure:"rules" validate:"required,min=1,unique=ID,dive"`
}
