package routing

import (
	"context"
	"errors"
	"time"
)

// HealthStatus is the health classification of a provider endpoint.
type HealthStatus string

const (
	// HealthUnknown is the initial state of a never-probed endpoint.
	HealthUnknown HealthStatus = "unknown"

	// HealthHealthy means the most recent call succeeded.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means at least one consecutive failure.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy means the failure streak reached the unhealthy
	// threshold; the selector stops routing to the endpoint.
	HealthUnhealthy HealthStatus = "unhealthy"
)

// SentinelEndpointID identifies the synthetic endpoint used when a
// provider runs without multi-endpoint mode. Health bookkeeping for it
// is a no-op.
const SentinelEndpointID int64 = 0

// Endpoint is one upstream address and credential pair for a provider.
// Records are durable and administered elsewhere; the core only mutates
// the health fields.
type Endpoint struct {
	ID                  int64
	ProviderID          int64
	Name                string
	URL                 string
	APIKey              string // empty inherits the provider's key
	Priority            int    // lower value wins under failover
	Weight              int    // >= 1, used by weighted selection
	IsEnabled           bool
	HealthStatus        HealthStatus
	ConsecutiveFailures int
	LastFailureTime     *time.Time
	LastSuccessTime     *time.Time
}

// ResolvedEndpoint is a selection result with the effective credential
// resolved: the endpoint's own key when set, else the provider's.
type ResolvedEndpoint struct {
	ID     int64
	Name   string
	URL    string
	APIKey string
}

// Strategy selects among a provider's eligible endpoints.
type Strategy string

const (
	// StrategyFailover always picks the minimum-priority endpoint.
	StrategyFailover Strategy = "failover"

	// StrategyRoundRobin rotates a per-provider cursor over the
	// eligible list.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyRandom picks uniformly on every call.
	StrategyRandom Strategy = "random"

	// StrategyWeighted picks proportionally to endpoint weights.
	StrategyWeighted Strategy = "weighted"
)

// ProviderConfig is the per-provider routing configuration consumed by
// the selector.
type ProviderConfig struct {
	ID            int64
	Name          string
	URL           string
	APIKey        string
	MultiEndpoint bool
	Strategy      Strategy
}

// EndpointStore is the durable-repository surface this package needs.
// Implemented by the storage backends.
type EndpointStore interface {
	// GetEndpoint returns one endpoint by ID.
	GetEndpoint(ctx context.Context, endpointID int64) (*Endpoint, error)

	// ListEndpoints returns every endpoint configured for a provider.
	ListEndpoints(ctx context.Context, providerID int64) ([]*Endpoint, error)

	// UpdateEndpointHealth persists an endpoint's runtime health fields.
	UpdateEndpointHealth(ctx context.Context, endpointID int64, status HealthStatus, consecutiveFailures int, lastFailure, lastSuccess *time.Time) error
}

var (
	// ErrNoEndpointAvailable is returned when filtering leaves nothing
	// selectable for a provider.
	ErrNoEndpointAvailable = errors.New("no endpoint available")

	// ErrEndpointNotFound is returned for an unknown endpoint ID.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrUnknownStrategy is returned for an unrecognized selection
	// strategy.
	ErrUnknownStrategy = errors.New("unknown selection strategy")
)
