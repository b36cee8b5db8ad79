package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls scheduled pruning of usage history.
type RetentionConfig struct {
	// RetentionDays is how long usage records are kept.
	// Default: 90 days.
	RetentionDays int

	// PruneSchedule is a cron expression for when pruning runs,
	// e.g. "0 3 * * *" for daily at 3 AM. Empty disables the
	// scheduler.
	PruneSchedule string
}

// RetentionScheduler prunes old usage records on a cron schedule.
// Cost windows older than a month never influence admission, so the
// history can be bounded without changing behavior.
type RetentionScheduler struct {
	backend Backend
	config  RetentionConfig
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
}

// NewRetentionScheduler creates a scheduler pruning through backend.
func NewRetentionScheduler(backend Backend, cfg RetentionConfig, logger *slog.Logger) *RetentionScheduler {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionScheduler{
		backend: backend,
		config:  cfg,
		cron:    cron.New(),
		logger:  logger.With("component", "storage.retention"),
	}
}

// Start begins scheduled pruning. An empty schedule is a no-op; an
// invalid one is an error. The scheduler stops when ctx is cancelled.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.PruneSchedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.PruneSchedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.PruneSchedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.PruneSchedule, func() {
		s.runPruning(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", s.config.PruneSchedule,
		"retention_days", s.config.RetentionDays)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts the scheduler. Safe to call more than once.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}

// Prune deletes usage records past the retention horizon. Exposed so
// operators can trigger a cycle outside the schedule.
func (s *RetentionScheduler) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	return s.backend.PruneUsageBefore(ctx, cutoff)
}

func (s *RetentionScheduler) runPruning(ctx context.Context) {
	deleted, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled pruning failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("scheduled pruning completed", "deleted_count", deleted)
	}
}
