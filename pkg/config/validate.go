package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path to the field (e.g. "storage.backend").
	Field string

	// Message is a human-readable error message.
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every validation failure in a configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks the configuration and returns a ValidationError
// listing every failed rule, or nil when valid.
func Validate(cfg *Config) error {
	var errs []FieldError

	if cfg.Cache.SweepInterval < time.Second {
		errs = append(errs, FieldError{"cache.sweep_interval", "must be at least 1s"})
	}

	switch cfg.Storage.Backend {
	case "sqlite", "memory":
	default:
		errs = append(errs, FieldError{"storage.backend", fmt.Sprintf("unknown backend %q", cfg.Storage.Backend)})
	}
	if cfg.Storage.Backend == "sqlite" && cfg.Storage.SQLitePath == "" {
		errs = append(errs, FieldError{"storage.sqlite_path", "required for the sqlite backend"})
	}
	if cfg.Storage.RetentionDays < 0 {
		errs = append(errs, FieldError{"storage.retention_days", "must not be negative"})
	}
	if cfg.Storage.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Storage.PruneSchedule); err != nil {
			errs = append(errs, FieldError{"storage.prune_schedule", fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}

	if cfg.Limits.SessionLimit < 0 {
		errs = append(errs, FieldError{"limits.session_limit", "must not be negative"})
	}
	if cfg.Limits.UserRPM < 0 {
		errs = append(errs, FieldError{"limits.user_rpm", "must not be negative"})
	}
	if cfg.Limits.UserDailyCost < 0 {
		errs = append(errs, FieldError{"limits.user_daily_cost", "must not be negative"})
	}

	switch cfg.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{"telemetry.log_level", fmt.Sprintf("unknown level %q", cfg.Telemetry.LogLevel)})
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, FieldError{"telemetry.log_format", fmt.Sprintf("unknown format %q", cfg.Telemetry.LogFormat)})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
