package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics exposed by the telemetry engine.
type Metrics struct {
	// Ingestion metrics
	EventsTrackedTotal *prometheus.CounterVec
	EventsDroppedTotal *prometheus.CounterVec
	BufferedEvents     prometheus.Gauge

	// Flush metrics
	FlushesTotal  *prometheus.CounterVec
	FlushDuration prometheus.Histogram
	FlushedEvents prometheus.Counter

	// Session metrics
	ActiveSessions     prometheus.Gauge
	SessionsEndedTotal prometheus.Counter

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Profile metrics
	ProfilesCached prometheus.Gauge

	// Retention metrics
	PurgedRowsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsTrackedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_events_tracked_total",
				Help: "Total number of events accepted by Track",
			},
			[]string{"event_type"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_events_dropped_total",
				Help: "Total number of events dropped before durable write",
			},
			[]string{"reason"},
		),
		BufferedEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "telemetry_buffered_events",
				Help: "Number of events currently buffered in memory",
			},
		),

		FlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_flushes_total",
				Help: "Total number of buffer flushes",
			},
			[]string{"trigger", "status"},
		),
		FlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "telemetry_flush_duration_seconds",
				Help:    "Buffer flush duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		FlushedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telemetry_flushed_events_total",
				Help: "Total number of events durably written",
			},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "telemetry_active_sessions",
				Help: "Number of in-memory session aggregates",
			},
		),
		SessionsEndedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telemetry_sessions_ended_total",
				Help: "Total number of finalized sessions",
			},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telemetry_store_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		ProfilesCached: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "telemetry_profiles_cached",
				Help: "Number of user profiles held in the in-memory cache",
			},
		),

		PurgedRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_purged_rows_total",
				Help: "Total number of rows removed by retention cleanup",
			},
			[]string{"table"},
		),
	}

	registry.MustRegister(
		m.EventsTrackedTotal,
		m.EventsDroppedTotal,
		m.BufferedEvents,
		m.FlushesTotal,
		m.FlushDuration,
		m.FlushedEvents,
		m.ActiveSessions,
		m.SessionsEndedTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ProfilesCached,
		m.PurgedRowsTotal,
	)

	return m
}

// NopMetrics returns a Metrics instance backed by an unexported registry.
// Engines constructed without explicit metrics record into it harmlessly.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// MetricsHandler returns the Prometheus scrape handler for registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
