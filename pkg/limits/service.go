package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"mercator-hq/ganymede/pkg/cache"
	"mercator-hq/ganymede/pkg/limits/session"
	"mercator-hq/ganymede/pkg/storage"
)

// Repository is the durable-aggregate surface the service falls back to
// when the cache is cold or unavailable. Satisfied by storage.Backend.
type Repository interface {
	SumCost(ctx context.Context, scope storage.Scope, entityID string, from, to time.Time) (float64, error)
	CountRequests(ctx context.Context, scope storage.Scope, entityID string, from, to time.Time) (int64, error)
	RecordUsage(ctx context.Context, rec *storage.UsageRecord) error
}

// Service is the admission façade combining window checks, session
// concurrency checks, cache-miss fallback and cache warming.
//
// Every check fails open: when neither the cache nor the repository can
// answer, the request is admitted. Availability of the proxy takes
// precedence over strict enforcement, so this policy must not be
// flipped to fail closed.
type Service struct {
	store    *cache.Store
	repo     Repository
	sessions *session.Tracker
	metrics  *Metrics
	logger   *slog.Logger
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store    *cache.Store
	Repo     Repository
	Sessions *session.Tracker
	Metrics  *Metrics // nil registers on the default registry
	Logger   *slog.Logger
}

// NewService creates the admission façade.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		store:    cfg.Store,
		repo:     cfg.Repo,
		sessions: cfg.Sessions,
		metrics:  metrics,
		logger:   logger.With("component", "limits"),
	}
}

// CheckCostLimits verifies an entity's spend against every configured
// limit. Limits with a nil amount pass unconditionally. A limit whose
// current spend cannot be determined passes too (fail open).
func (s *Service) CheckCostLimits(ctx context.Context, scope storage.Scope, id string, costLimits []CostLimit) (CheckResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.checkDuration.WithLabelValues("cost").Observe(time.Since(start).Seconds())
	}()

	now := time.Now()
	for _, limit := range costLimits {
		if limit.Amount == nil {
			continue
		}

		current, err := s.currentCost(ctx, scope, id, limit, now)
		if err != nil {
			s.failOpen("cost", scope, id, err)
			continue
		}

		if current >= *limit.Amount {
			s.metrics.costChecks.WithLabelValues(string(scope), "denied").Inc()
			s.metrics.costHits.WithLabelValues(string(scope), string(limit.Period)).Inc()
			return deny(fmt.Sprintf("%s cost limit exceeded: %.4f >= %.4f", limit.Period, current, *limit.Amount)), nil
		}
	}

	s.metrics.costChecks.WithLabelValues(string(scope), "allowed").Inc()
	return allow(), nil
}

// GetCurrentCost returns the entity's spend in the limit's current
// window, for response headers and dashboards.
func (s *Service) GetCurrentCost(ctx context.Context, scope storage.Scope, id string, limit CostLimit) (float64, error) {
	return s.currentCost(ctx, scope, id, limit, time.Now())
}

// TrackCost records spend into the window of every supplied limit and
// appends a usage record to the durable repository. Tracking is
// best-effort telemetry: failures are logged, never surfaced to the
// caller's request.
func (s *Service) TrackCost(ctx context.Context, scope storage.Scope, id, model string, cost float64, costLimits []CostLimit) {
	now := time.Now()
	seen := make(map[string]bool, len(costLimits))

	for _, limit := range costLimits {
		key := costKey(scope, id, limit)
		if seen[key] {
			continue
		}
		seen[key] = true

		var err error
		if limit.rolling() {
			_, err = s.store.TrackCostWindow(ctx, key, cost, now, limit.windowSize(), windowBackstopTTL)
		} else {
			err = s.trackFixed(ctx, key, cost, limit, now)
		}
		if err != nil {
			s.logger.Warn("cost tracking failed", "key", key, "error", err)
		}
	}

	rec := &storage.UsageRecord{Scope: scope, EntityID: id, Model: model, Cost: cost, CreatedAt: now}
	if err := s.repo.RecordUsage(ctx, rec); err != nil {
		s.logger.Warn("usage record write failed", "scope", scope, "entity", id, "error", err)
	}
}

// trackFixed adds cost to a calendar-aligned counter, stamping the TTL
// through the window's next reset when the key is fresh.
func (s *Service) trackFixed(ctx context.Context, key string, cost float64, limit CostLimit, now time.Time) error {
	if _, err := s.store.IncrByFloat(ctx, key, cost); err != nil {
		return err
	}

	ttl, err := s.store.TTL(ctx, key)
	if err != nil {
		return err
	}
	if ttl < 0 {
		if _, err := s.store.Expire(ctx, key, limit.windowEnd(now).Sub(now)); err != nil {
			return err
		}
	}
	return nil
}

// currentCost resolves spend from the cache, probing existence before
// trusting a zero and degrading to the repository aggregate (which then
// warms the cache) on a miss.
func (s *Service) currentCost(ctx context.Context, scope storage.Scope, id string, limit CostLimit, now time.Time) (float64, error) {
	key := costKey(scope, id, limit)

	if limit.rolling() {
		total, err := s.store.SumCostWindow(ctx, key, now, limit.windowSize())
		if err == nil && total != 0 {
			return total, nil
		}
		if err == nil {
			// A zero is only trusted when the key genuinely exists;
			// otherwise it is a cold cache.
			exists, exErr := s.store.Exists(ctx, key)
			if exErr == nil && exists {
				return 0, nil
			}
		}
		return s.fallbackRolling(ctx, scope, id, key, limit, now)
	}

	v, err := s.store.Get(ctx, key)
	if err == nil {
		total, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("corrupt cost counter %s: %w", key, parseErr)
		}
		return total, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("cache read failed, falling back to repository", "key", key, "error", err)
	}
	return s.fallbackFixed(ctx, scope, id, key, limit, now)
}

// fallbackRolling queries the durable aggregate for a rolling window
// and warms the cache with it. The warmed value rides a single
// synthetic event scored now, so it decays only after a full window;
// concurrent warmers race last-write-wins and the window self-heals as
// real events land.
func (s *Service) fallbackRolling(ctx context.Context, scope storage.Scope, id, key string, limit CostLimit, now time.Time) (float64, error) {
	from := now.Add(-limit.windowSize())
	total, err := s.repo.SumCost(ctx, scope, id, from, now)
	if err != nil {
		return 0, fmt.Errorf("repository aggregate for %s: %w", key, err)
	}

	if total > 0 {
		if _, err := s.store.TrackCostWindow(ctx, key, total, now, limit.windowSize(), windowBackstopTTL); err != nil {
			s.logger.Warn("cache warming failed", "key", key, "error", err)
		}
	}
	return total, nil
}

// fallbackFixed queries the durable aggregate since the window's last
// reset and warms the fixed counter with a TTL through the next reset.
func (s *Service) fallbackFixed(ctx context.Context, scope storage.Scope, id, key string, limit CostLimit, now time.Time) (float64, error) {
	total, err := s.repo.SumCost(ctx, scope, id, limit.windowStart(now), now)
	if err != nil {
		return 0, fmt.Errorf("repository aggregate for %s: %w", key, err)
	}

	value := strconv.FormatFloat(total, 'f', -1, 64)
	if err := s.store.SetEx(ctx, key, value, limit.windowEnd(now).Sub(now)); err != nil {
		s.logger.Warn("cache warming failed", "key", key, "error", err)
	}
	return total, nil
}

// CheckSessionLimit verifies the live session count in a scope against
// a cap. Zero or negative caps mean unlimited.
func (s *Service) CheckSessionLimit(ctx context.Context, scopeKey string, limit int) (CheckResult, error) {
	if limit <= 0 {
		return allow(), nil
	}

	count, err := s.sessions.Count(ctx, scopeKey)
	if err != nil {
		s.failOpen("session", "", scopeKey, err)
		return allow(), nil
	}

	if count >= limit {
		s.metrics.sessionChecks.WithLabelValues("denied").Inc()
		return deny(fmt.Sprintf("session limit exceeded: %d >= %d", count, limit)), nil
	}
	s.metrics.sessionChecks.WithLabelValues("allowed").Inc()
	return allow(), nil
}

// CheckAndTrackProviderSession is the atomic provider-level admission:
// counting and tracking run in one critical section, so concurrent
// callers can never over-admit. This is the mandatory path for
// provider concurrency caps; separate check-then-track calls race.
func (s *Service) CheckAndTrackProviderSession(ctx context.Context, providerID int64, sessionID string, limit int) (AdmissionResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.checkDuration.WithLabelValues("provider_session").Observe(time.Since(start).Seconds())
	}()

	allowed, count, tracked, err := s.sessions.CheckAndTrack(ctx, providerID, sessionID, limit)
	if err != nil {
		s.failOpen("provider_session", storage.ScopeProvider, sessionID, err)
		return AdmissionResult{Allowed: true, Count: 0, Tracked: false}, nil
	}

	result := AdmissionResult{Allowed: allowed, Count: count, Tracked: tracked}
	if !allowed {
		result.Reason = fmt.Sprintf("provider session limit exceeded: %d >= %d", count, limit)
		s.metrics.sessionChecks.WithLabelValues("denied").Inc()
	} else {
		s.metrics.sessionChecks.WithLabelValues("allowed").Inc()
	}
	return result, nil
}

// CheckUserRPM verifies and advances the user's request rate over a
// one-minute sliding window. Zero or negative caps mean unlimited.
func (s *Service) CheckUserRPM(ctx context.Context, userID string, maxRPM int) (CheckResult, error) {
	if maxRPM <= 0 {
		return allow(), nil
	}

	now := time.Now()
	key := rpmKey(userID)

	count, err := s.store.SumCostWindow(ctx, key, now, rpmWindow)
	if err != nil {
		n, repoErr := s.repo.CountRequests(ctx, storage.ScopeUser, userID, now.Add(-rpmWindow), now)
		if repoErr != nil {
			s.failOpen("rpm", storage.ScopeUser, userID, errors.Join(err, repoErr))
			return allow(), nil
		}
		count = float64(n)
	}

	if int(count) >= maxRPM {
		return deny(fmt.Sprintf("rpm limit exceeded: %d >= %d", int(count), maxRPM)), nil
	}

	if _, err := s.store.TrackCostWindow(ctx, key, 1, now, rpmWindow, 2*time.Minute); err != nil {
		s.logger.Warn("rpm tracking failed", "user", userID, "error", err)
	}
	return allow(), nil
}

// CheckUserDailyCost verifies the user's rolling 24h spend against a
// cap.
func (s *Service) CheckUserDailyCost(ctx context.Context, userID string, limit float64) (CheckResult, error) {
	if limit <= 0 {
		return allow(), nil
	}
	return s.CheckCostLimits(ctx, storage.ScopeUser, userID, []CostLimit{
		{Amount: &limit, Period: PeriodDaily, ResetMode: ResetRolling},
	})
}

// TrackUserDailyCost records spend into the user's rolling 24h window.
func (s *Service) TrackUserDailyCost(ctx context.Context, userID string, cost float64) {
	s.TrackCost(ctx, storage.ScopeUser, userID, "", cost, []CostLimit{
		{Period: PeriodDaily, ResetMode: ResetRolling},
	})
}

func (s *Service) failOpen(check string, scope storage.Scope, id string, err error) {
	s.metrics.failOpen.WithLabelValues(check).Inc()
	s.logger.Warn("admission check failed open",
		"check", check,
		"scope", string(scope),
		"id", id,
		"error", err)
}
