package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the usage engine.
// The collector buffer gauge is the operator signal for storage outages:
// a persistently growing buffer means flushes are failing and events are
// piling up in memory.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Collector (event buffer) metrics.
	CollectorBufferSize    prometheus.Gauge
	CollectorFlushesTotal  *prometheus.CounterVec
	CollectorFlushDuration prometheus.Histogram
	EventsTrackedTotal     prometheus.Counter
	EventsFlushedTotal     prometheus.Counter

	// Counter store (fast path) metrics.
	CounterStoreErrorsTotal prometheus.Counter

	// Quota metrics.
	QuotaChecksTotal *prometheus.CounterVec

	// Ingest rate limiting.
	IngestRejectionsTotal prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gabelle_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gabelle_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		CollectorBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gabelle_collector_buffer_size",
			Help: "Current number of buffered usage events awaiting flush.",
		}),

		CollectorFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gabelle_collector_flushes_total",
			Help: "Total number of collector flushes by outcome.",
		}, []string{"status"}),

		CollectorFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gabelle_collector_flush_duration_seconds",
			Help:    "Duration of collector flush operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		EventsTrackedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gabelle_events_tracked_total",
			Help: "Total number of usage events accepted at the Track boundary.",
		}),

		EventsFlushedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gabelle_events_flushed_total",
			Help: "Total number of usage events durably flushed.",
		}),

		CounterStoreErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gabelle_counter_store_errors_total",
			Help: "Total number of counter store failures (degraded fast path).",
		}),

		QuotaChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gabelle_quota_checks_total",
			Help: "Total number of quota checks by result and read source.",
		}, []string{"result", "source"}),

		IngestRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gabelle_ingest_rejections_total",
			Help: "Total number of Track requests rejected by the ingest rate limiter.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gabelle_server_start_time_seconds",
			Help: "Unix timestamp of server start.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CollectorBufferSize,
		m.CollectorFlushesTotal,
		m.CollectorFlushDuration,
		m.EventsTrackedTotal,
		m.EventsFlushedTotal,
		m.CounterStoreErrorsTotal,
		m.QuotaChecksTotal,
		m.IngestRejectionsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(sample PoolStatsFunc) {
	m.registry.MustRegister(NewDBPoolCollector(sample))
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, statusCode int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// SetBufferSize records the current collector buffer depth.
func (m *Metrics) SetBufferSize(n int) {
	m.CollectorBufferSize.Set(float64(n))
}

// EventTracked counts one event accepted at the Track boundary.
func (m *Metrics) EventTracked() {
	m.EventsTrackedTotal.Inc()
}

// FlushSucceeded records a successful flush of n events.
func (m *Metrics) FlushSucceeded(events int, elapsed time.Duration) {
	m.CollectorFlushesTotal.WithLabelValues("ok").Inc()
	m.CollectorFlushDuration.Observe(elapsed.Seconds())
	m.EventsFlushedTotal.Add(float64(events))
}

// FlushFailed records a failed flush whose snapshot was requeued.
func (m *Metrics) FlushFailed(events int) {
	m.CollectorFlushesTotal.WithLabelValues("error").Inc()
}

// CounterStoreError counts one counter store failure.
func (m *Metrics) CounterStoreError() {
	m.CounterStoreErrorsTotal.Inc()
}

// QuotaCheck records one quota check by result and read source.
func (m *Metrics) QuotaCheck(allowed bool, source string) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.QuotaChecksTotal.WithLabelValues(result, source).Inc()
}

// IncIngestRejection counts one rate-limited Track request.
func (m *Metrics) IncIngestRejection() {
	m.IngestRejectionsTotal.Inc()
}
