// Package routing selects upstream endpoints for multi-endpoint
// providers and tracks their health.
//
// The Selector filters a provider's endpoints to the eligible set and
// applies the provider's strategy: failover, round_robin, random or
// weighted. The HealthTracker runs the consecutive-failure state
// machine (healthy, degraded, unhealthy) and persists every transition
// to the durable store so all gateway instances share one view.
// Providers without multi-endpoint mode route through a sentinel
// endpoint that bypasses both mechanisms.
package routing
