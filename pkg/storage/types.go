package storage

import (
	"context"
	"errors"
	"time"

	"mercator-hq/ganymede/pkg/costs"
	"mercator-hq/ganymede/pkg/routing"
)

// Scope identifies which entity a usage record or cost query belongs to.
// The values double as the first segment of cache key names, so they
// must stay stable.
type Scope string

const (
	ScopeAPIKey   Scope = "apikey"
	ScopeProvider Scope = "provider"
	ScopeUser     Scope = "user"
)

// UsageRecord is one completed upstream request with its final cost.
// Records are the durable source of truth the cache warms from.
type UsageRecord struct {
	ID         string // assigned on insert when empty
	Scope      Scope
	EntityID   string
	ProviderID int64
	Model      string
	Cost       float64
	Tokens     int64
	CreatedAt  time.Time
}

// NotificationSettings holds the gateway-wide alerting configuration
// consumed by the notification scheduler. Administered elsewhere; the
// core only reads and seeds it.
type NotificationSettings struct {
	EmailEnabled       bool
	WebhookURL         string
	DigestTime         string // "HH:mm", local gateway time
	BudgetAlertPercent float64
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Backend is the durable repository behind the in-process cache. It
// stores usage records for cost aggregation, provider endpoints with
// their health, provider cost rules and notification settings.
//
// Backend embeds routing.EndpointStore so the health tracker and
// selector can persist through the same handle.
type Backend interface {
	routing.EndpointStore

	// RecordUsage inserts one usage record, assigning an ID when the
	// record carries none.
	RecordUsage(ctx context.Context, rec *UsageRecord) error

	// SumCost returns the total cost for an entity in [from, to].
	SumCost(ctx context.Context, scope Scope, entityID string, from, to time.Time) (float64, error)

	// CountRequests returns the number of usage records for an entity
	// in [from, to].
	CountRequests(ctx context.Context, scope Scope, entityID string, from, to time.Time) (int64, error)

	// PruneUsageBefore deletes usage records older than cutoff and
	// returns how many were removed.
	PruneUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CreateEndpoint inserts a provider endpoint, assigning its ID.
	CreateEndpoint(ctx context.Context, ep *routing.Endpoint) error

	// ListCostRules returns the cost rules configured for a provider.
	ListCostRules(ctx context.Context, providerID int64) ([]costs.Rule, error)

	// SaveCostRule inserts or updates a cost rule.
	SaveCostRule(ctx context.Context, rule *costs.Rule) error

	// NotificationSettings returns the gateway alerting configuration,
	// or ErrNotFound when none has been saved.
	NotificationSettings(ctx context.Context) (*NotificationSettings, error)

	// SaveNotificationSettings replaces the gateway alerting
	// configuration.
	SaveNotificationSettings(ctx context.Context, s *NotificationSettings) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
