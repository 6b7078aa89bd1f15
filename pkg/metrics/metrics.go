// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal counts dispatch batches started.
	DispatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatches_total",
			Help: "Total number of dispatch batches started.",
		},
	)

	// OutcomesTotal counts per-provider outcomes by status.
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outcomes_total",
			Help: "Total number of per-provider dispatch outcomes by status.",
		},
		[]string{"provider", "status"}, // status: "ok", "error", "cache_hit"
	)

	// RequestLatency tracks per-provider request latency in seconds.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "Per-provider request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model", "status"},
	)

	// RetrySleepsTotal counts retry sleeps by retry class.
	RetrySleepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_sleeps_total",
			Help: "Total number of retry sleeps taken, by retry class.",
		},
		[]string{"class"}, // "fixed" or "backoff"
	)

	// CacheHitsTotal counts response cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of response cache hits.",
		},
	)

	// CacheLookupsTotal counts response cache lookups.
	CacheLookupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of response cache lookups.",
		},
	)

	// CacheHitRatio is a convenience gauge derived from hits/lookups.
	CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_hit_ratio",
			Help: "Current cache hit ratio (hits / lookups). Computed per-update.",
		},
	)

	// CircuitBreakerState tracks the per-provider circuit breaker state.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state: 0=closed, 1=open, 2=half-open.",
		},
		[]string{"provider"},
	)

	// InFlightRequests tracks currently running provider requests.
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "in_flight_requests",
			Help: "Number of currently in-flight provider requests.",
		},
	)

	cacheStatsMu sync.Mutex
	totalHits    float64
	totalLookups float64
)

// RecordCacheLookup records a cache lookup and refreshes the hit ratio gauge.
// Safe for concurrent use; dispatches run in parallel.
func RecordCacheLookup(hit bool) {
	CacheLookupsTotal.Inc()
	if hit {
		CacheHitsTotal.Inc()
	}

	cacheStatsMu.Lock()
	defer cacheStatsMu.Unlock()

	totalLookups++
	if hit {
		totalHits++
	}
	CacheHitRatio.Set(totalHits / totalLookups)
}
