package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the limits service.
type Metrics struct {
	costChecks    *prometheus.CounterVec
	costHits      *prometheus.CounterVec
	sessionChecks *prometheus.CounterVec
	failOpen      *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
}

// NewMetrics creates the limits collectors on reg. Pass a fresh
// registry in tests; nil uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		costChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ganymede_limits_cost_checks_total",
				Help: "Total number of cost limit checks performed",
			},
			[]string{"scope", "result"},
		),

		costHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ganymede_limits_cost_limit_hits_total",
				Help: "Total number of cost limit violations",
			},
			[]string{"scope", "period"},
		),

		sessionChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ganymede_limits_session_checks_total",
				Help: "Total number of session concurrency checks",
			},
			[]string{"result"},
		),

		failOpen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ganymede_limits_fail_open_total",
				Help: "Checks allowed because a dependency was unavailable",
			},
			[]string{"check"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ganymede_limits_check_duration_seconds",
				Help:    "Latency of admission checks",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"check"},
		),
	}
}
