package config

import "time"

// Config is the root configuration structure for Ganymede. It covers
// the in-process cache, the durable store, default admission limits and
// telemetry.
type Config struct {
	// Cache contains the in-process TTL store configuration.
	Cache CacheConfig `yaml:"cache"`

	// Storage contains the durable repository configuration.
	Storage StorageConfig `yaml:"storage"`

	// Limits contains the default admission limits applied when a
	// request carries no entity-specific ones.
	Limits LimitsConfig `yaml:"limits"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// CacheConfig configures the in-process TTL store.
type CacheConfig struct {
	// SweepInterval is how often expired entries are reclaimed.
	// Default: 60s
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StorageConfig configures the durable repository.
type StorageConfig struct {
	// Backend selects the repository implementation: "sqlite" or
	// "memory". Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLitePath is the database file path for the sqlite backend.
	// Default: "data/ganymede.db"
	SQLitePath string `yaml:"sqlite_path"`

	// CheckpointInterval is how often the sqlite WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// RetentionDays is how long usage records are kept.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression for retention pruning.
	// Empty disables scheduled pruning. Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// LimitsConfig contains gateway-wide default admission limits.
// Zero values mean unlimited.
type LimitsConfig struct {
	// SessionLimit caps concurrently active sessions per provider.
	SessionLimit int `yaml:"session_limit"`

	// UserRPM caps per-user requests per minute.
	UserRPM int `yaml:"user_rpm"`

	// UserDailyCost caps per-user spend over a rolling 24h window.
	UserDailyCost float64 `yaml:"user_daily_cost"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat is "json" or "text". Default: "json"
	LogFormat string `yaml:"log_format"`

	// MetricsEnabled exposes Prometheus metrics when true.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsAddress is the listen address for the metrics endpoint.
	// Default: "127.0.0.1:9090"
	MetricsAddress string `yaml:"metrics_address"`
}
