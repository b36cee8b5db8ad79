package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Selector picks an endpoint for each outbound call. It filters a
// provider's endpoints down to the eligible set (enabled, not
// unhealthy, not excluded by the caller's retry loop) and applies the
// provider's configured strategy.
type Selector struct {
	store  EndpointStore
	logger *slog.Logger

	mu      sync.Mutex
	cursors map[int64]*atomic.Uint64 // round-robin position per provider

	rngMu sync.Mutex
	rng   *rand.Rand
}

// SelectorConfig configures a Selector. Rand is injectable so tests can
// seed the random and weighted strategies; nil gets a time-seeded source.
type SelectorConfig struct {
	Store  EndpointStore
	Logger *slog.Logger
	Rand   *rand.Rand
}

// NewSelector creates a selector reading endpoints from cfg.Store.
func NewSelector(cfg SelectorConfig) *Selector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{
		store:   cfg.Store,
		logger:  logger,
		cursors: make(map[int64]*atomic.Uint64),
		rng:     rng,
	}
}

// Select resolves the endpoint for one call to the provider. exclude
// holds endpoint IDs already tried and failed during the current
// request; pass nil on the first attempt.
//
// When the provider does not run in multi-endpoint mode the provider's
// own URL and key are returned under the sentinel endpoint ID and no
// endpoint records are consulted.
func (s *Selector) Select(ctx context.Context, provider ProviderConfig, exclude map[int64]bool) (*ResolvedEndpoint, error) {
	if !provider.MultiEndpoint {
		return &ResolvedEndpoint{
			ID:     SentinelEndpointID,
			Name:   provider.Name,
			URL:    provider.URL,
			APIKey: provider.APIKey,
		}, nil
	}

	endpoints, err := s.store.ListEndpoints(ctx, provider.ID)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints for provider %d: %w", provider.ID, err)
	}

	eligible := make([]*Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if !ep.IsEnabled || ep.HealthStatus == HealthUnhealthy || exclude[ep.ID] {
			continue
		}
		eligible = append(eligible, ep)
	}
	if len(eligible) == 0 {
		s.logger.Warn("no eligible endpoint",
			"provider_id", provider.ID,
			"provider", provider.Name,
			"total", len(endpoints),
			"excluded", len(exclude))
		return nil, fmt.Errorf("provider %d: %w", provider.ID, ErrNoEndpointAvailable)
	}

	var chosen *Endpoint
	switch provider.Strategy {
	case StrategyFailover, "":
		chosen = s.pickFailover(eligible)
	case StrategyRoundRobin:
		chosen = s.pickRoundRobin(provider.ID, eligible)
	case StrategyRandom:
		chosen = eligible[s.intn(len(eligible))]
	case StrategyWeighted:
		chosen = s.pickWeighted(eligible)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, provider.Strategy)
	}

	key := chosen.APIKey
	if key == "" {
		key = provider.APIKey
	}
	return &ResolvedEndpoint{
		ID:     chosen.ID,
		Name:   chosen.Name,
		URL:    chosen.URL,
		APIKey: key,
	}, nil
}

// pickFailover returns the minimum-priority endpoint, breaking ties by
// the lowest ID so the result is deterministic.
func (s *Selector) pickFailover(eligible []*Endpoint) *Endpoint {
	best := eligible[0]
	for _, ep := range eligible[1:] {
		if ep.Priority < best.Priority || (ep.Priority == best.Priority && ep.ID < best.ID) {
			best = ep
		}
	}
	return best
}

// pickRoundRobin advances the provider's cursor over the eligible list.
// The cursor indexes the post-filter list, so positions shift as
// endpoints drop in and out of eligibility; the rotation stays fair
// over a stable set.
func (s *Selector) pickRoundRobin(providerID int64, eligible []*Endpoint) *Endpoint {
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	s.mu.Lock()
	cursor, ok := s.cursors[providerID]
	if !ok {
		cursor = &atomic.Uint64{}
		s.cursors[providerID] = cursor
	}
	s.mu.Unlock()

	idx := (cursor.Add(1) - 1) % uint64(len(eligible))
	return eligible[idx]
}

// pickWeighted draws proportionally to endpoint weights. Weights below
// one count as one.
func (s *Selector) pickWeighted(eligible []*Endpoint) *Endpoint {
	total := 0
	for _, ep := range eligible {
		total += weightOf(ep)
	}

	r := s.intn(total)
	for _, ep := range eligible {
		r -= weightOf(ep)
		if r < 0 {
			return ep
		}
	}
	return eligible[len(eligible)-1]
}

func weightOf(ep *Endpoint) int {
	if ep.Weight < 1 {
		return 1
	}
	return ep.Weight
}

// intn serializes access to the shared rand source.
func (s *Selector) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Intn(n)
}

// ResetCursors clears all round-robin positions. Intended for tests.
func (s *Selector) ResetCursors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = make(map[int64]*atomic.Uint64)
}
