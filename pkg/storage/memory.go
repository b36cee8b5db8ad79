package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/costs"
	"mercator-hq/ganymede/pkg/routing"
)

// MemoryBackend implements Backend entirely in process memory. It backs
// tests and ephemeral deployments where durability is not required.
type MemoryBackend struct {
	mu           sync.RWMutex
	usage        []UsageRecord
	endpoints    map[int64]*routing.Endpoint
	rules        map[int64]costs.Rule
	notification *NotificationSettings
	nextEndpoint int64
	nextRule     int64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		endpoints: make(map[int64]*routing.Endpoint),
		rules:     make(map[int64]costs.Rule),
	}
}

// RecordUsage appends one usage record.
func (m *MemoryBackend) RecordUsage(_ context.Context, rec *UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, *rec)
	return nil
}

// SumCost totals the cost for an entity in [from, to].
func (m *MemoryBackend) SumCost(_ context.Context, scope Scope, entityID string, from, to time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, rec := range m.usage {
		if rec.Scope == scope && rec.EntityID == entityID && inRange(rec.CreatedAt, from, to) {
			total += rec.Cost
		}
	}
	return total, nil
}

// CountRequests counts the usage records for an entity in [from, to].
func (m *MemoryBackend) CountRequests(_ context.Context, scope Scope, entityID string, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, rec := range m.usage {
		if rec.Scope == scope && rec.EntityID == entityID && inRange(rec.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

// PruneUsageBefore deletes usage records older than cutoff.
func (m *MemoryBackend) PruneUsageBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.usage[:0]
	var removed int64
	for _, rec := range m.usage {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.usage = kept
	return removed, nil
}

// CreateEndpoint inserts an endpoint and assigns its ID.
func (m *MemoryBackend) CreateEndpoint(_ context.Context, ep *routing.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEndpoint++
	ep.ID = m.nextEndpoint
	if ep.HealthStatus == "" {
		ep.HealthStatus = routing.HealthUnknown
	}
	cp := *ep
	m.endpoints[ep.ID] = &cp
	return nil
}

// GetEndpoint returns one endpoint by ID.
func (m *MemoryBackend) GetEndpoint(_ context.Context, endpointID int64) (*routing.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ep, ok := m.endpoints[endpointID]
	if !ok {
		return nil, routing.ErrEndpointNotFound
	}
	cp := *ep
	return &cp, nil
}

// ListEndpoints returns a provider's endpoints ordered by ID.
func (m *MemoryBackend) ListEndpoints(_ context.Context, providerID int64) ([]*routing.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*routing.Endpoint
	for _, ep := range m.endpoints {
		if ep.ProviderID == providerID {
			cp := *ep
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateEndpointHealth persists an endpoint's runtime health fields.
func (m *MemoryBackend) UpdateEndpointHealth(_ context.Context, endpointID int64, status routing.HealthStatus, consecutiveFailures int, lastFailure, lastSuccess *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.endpoints[endpointID]
	if !ok {
		return routing.ErrEndpointNotFound
	}
	ep.HealthStatus = status
	ep.ConsecutiveFailures = consecutiveFailures
	ep.LastFailureTime = lastFailure
	ep.LastSuccessTime = lastSuccess
	return nil
}

// ListCostRules returns a provider's cost rules ordered by ID.
func (m *MemoryBackend) ListCostRules(_ context.Context, providerID int64) ([]costs.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []costs.Rule
	for _, r := range m.rules {
		if r.ProviderID == providerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveCostRule inserts or updates a cost rule.
func (m *MemoryBackend) SaveCostRule(_ context.Context, rule *costs.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rule.ID == 0 {
		m.nextRule++
		rule.ID = m.nextRule
	}
	m.rules[rule.ID] = *rule
	return nil
}

// NotificationSettings returns the saved alerting configuration.
func (m *MemoryBackend) NotificationSettings(_ context.Context) (*NotificationSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.notification == nil {
		return nil, ErrNotFound
	}
	cp := *m.notification
	return &cp, nil
}

// SaveNotificationSettings replaces the alerting configuration.
func (m *MemoryBackend) SaveNotificationSettings(_ context.Context, settings *NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *settings
	m.notification = &cp
	return nil
}

// Ping always succeeds for the in-memory backend.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory backend.
func (m *MemoryBackend) Close() error { return nil }

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}
