package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_request_duration_seconds",
			Help:    "Search request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.5, 1, 2.5},
		},
		[]string{"sort", "status"},
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total number of search requests",
		},
		[]string{"sort", "status"},
	)

	RecommendationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommendation_duration_seconds",
			Help:    "Recommendation build duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1},
		},
		[]string{"status"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_hits_total",
			Help: "Total number of Redis cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_misses_total",
			Help: "Total number of Redis cache misses",
		},
	)

	StaleFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_stale_fallback_total",
			Help: "Total number of results served from the stale fallback key",
		},
	)

	CatalogQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_query_duration_seconds",
			Help:    "Catalog store query duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.5, 1},
		},
		[]string{"operation", "status"},
	)

	CHQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ch_query_duration_seconds",
			Help:    "ClickHouse query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"query_type", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SlowQueryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_query_total",
			Help: "Total number of slow queries",
		},
		[]string{"severity", "query_type"},
	)

	InterestProfilesResident = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "interest_profiles_resident",
			Help: "Number of interest profiles currently held in memory",
		},
	)

	InteractionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interaction_events_total",
			Help: "Interaction events published/consumed on the event bus",
		},
		[]string{"direction", "status"},
	)

	CatalogSyncEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_events_total",
			Help: "Catalog change events applied to the search index",
		},
		[]string{"operation", "status"},
	)
)
