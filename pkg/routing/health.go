package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// unhealthyThreshold is the consecutive-failure count at which an
// endpoint is marked unhealthy and removed from selection.
const unhealthyThreshold = 3

// HealthTracker maintains the per-endpoint failure-streak state machine.
// State lives in the durable store, not in process memory, so every
// gateway instance observes the same endpoint health.
type HealthTracker struct {
	store  EndpointStore
	logger *slog.Logger
}

// NewHealthTracker creates a tracker persisting through store.
func NewHealthTracker(store EndpointStore, logger *slog.Logger) *HealthTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthTracker{store: store, logger: logger}
}

// RecordSuccess marks a call to the endpoint as successful. Any success
// resets the failure streak and returns the endpoint to healthy,
// regardless of the previous state.
func (t *HealthTracker) RecordSuccess(ctx context.Context, endpointID int64) (HealthStatus, error) {
	if endpointID == SentinelEndpointID {
		return HealthHealthy, nil
	}

	ep, err := t.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return HealthUnknown, fmt.Errorf("loading endpoint %d: %w", endpointID, err)
	}

	now := time.Now()
	if err := t.store.UpdateEndpointHealth(ctx, endpointID, HealthHealthy, 0, ep.LastFailureTime, &now); err != nil {
		return HealthUnknown, fmt.Errorf("persisting endpoint %d health: %w", endpointID, err)
	}

	if ep.HealthStatus != HealthHealthy {
		t.logger.Info("endpoint recovered",
			"endpoint_id", endpointID,
			"endpoint", ep.Name,
			"previous_status", string(ep.HealthStatus))
	}
	return HealthHealthy, nil
}

// RecordFailure marks a call to the endpoint as failed and advances the
// streak: one failure degrades the endpoint, reaching the threshold
// marks it unhealthy.
func (t *HealthTracker) RecordFailure(ctx context.Context, endpointID int64) (HealthStatus, error) {
	if endpointID == SentinelEndpointID {
		return HealthHealthy, nil
	}

	ep, err := t.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return HealthUnknown, fmt.Errorf("loading endpoint %d: %w", endpointID, err)
	}

	failures := ep.ConsecutiveFailures + 1
	status := HealthDegraded
	if failures >= unhealthyThreshold {
		status = HealthUnhealthy
	}

	now := time.Now()
	if err := t.store.UpdateEndpointHealth(ctx, endpointID, status, failures, &now, ep.LastSuccessTime); err != nil {
		return HealthUnknown, fmt.Errorf("persisting endpoint %d health: %w", endpointID, err)
	}

	if status == HealthUnhealthy && ep.HealthStatus != HealthUnhealthy {
		t.logger.Warn("endpoint marked unhealthy",
			"endpoint_id", endpointID,
			"endpoint", ep.Name,
			"consecutive_failures", failures)
	} else {
		t.logger.Debug("endpoint failure recorded",
			"endpoint_id", endpointID,
			"endpoint", ep.Name,
			"consecutive_failures", failures,
			"status", string(status))
	}
	return status, nil
}
