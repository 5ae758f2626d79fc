package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Snapshot metrics
	SnapshotsCreated   *prometheus.CounterVec
	ReconcilesTotal    *prometheus.CounterVec
	ReconcileDuration  *prometheus.HistogramVec

	// Rollback metrics
	RollbacksTotal *prometheus.CounterVec

	// Sync cycle metrics
	SyncCyclesTotal   *prometheus.CounterVec
	SyncCycleDuration prometheus.Histogram
	SyncWorkflows     *prometheus.CounterVec

	// Remote API metrics
	RemoteCallsTotal  *prometheus.CounterVec
	RemoteCallLatency *prometheus.HistogramVec

	// Quota metrics
	OveragesRecorded *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all Prometheus metrics
func New(namespace string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		SnapshotsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshots_created_total",
				Help:      "Snapshot versions appended, by kind",
			},
			[]string{"kind"},
		),
		ReconcilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciles_total",
				Help:      "Reconciliation attempts, by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of a single workflow reconciliation",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"trigger"},
		),
		RollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Rollback operations, by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		SyncCyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_cycles_total",
				Help:      "Scheduled sync cycles, by outcome",
			},
			[]string{"outcome"},
		),
		SyncCycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_cycle_duration_seconds",
				Help:      "Duration of a full sync cycle",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		SyncWorkflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_workflows_total",
				Help:      "Workflows processed by the sync cycle, by result",
			},
			[]string{"result"},
		),
		RemoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Calls against the automation platform API",
			},
			[]string{"operation", "status"},
		),
		RemoteCallLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Latency of automation platform API calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		OveragesRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "overages_recorded_total",
				Help:      "Quota overages created or incremented",
			},
			[]string{"resource"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SnapshotsCreated,
		m.ReconcilesTotal,
		m.ReconcileDuration,
		m.RollbacksTotal,
		m.SyncCyclesTotal,
		m.SyncCycleDuration,
		m.SyncWorkflows,
		m.RemoteCallsTotal,
		m.RemoteCallLatency,
		m.OveragesRecorded,
	)
	m.registry.MustRegister(prometheus.NewGoCollector())

	return m
}

// Handler returns the HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and latency
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
