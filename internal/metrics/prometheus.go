// Package metrics provides Prometheus metrics for the startup optimizer.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "startup_optimizer"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Loader metrics
	componentLoads        *prometheus.CounterVec
	componentLoadDuration *prometheus.HistogramVec
	componentsLoaded      prometheus.Gauge
	componentsRegistered  prometheus.Gauge
	bootstrapPhase        *prometheus.HistogramVec
	bootstrapComplete     prometheus.Gauge

	// Resource metrics
	heapUsagePercent    prometheus.Gauge
	memoryThreshold     prometheus.Gauge
	admissionRejections prometheus.Counter

	// Usage and decision metrics
	accessEvents      *prometheus.CounterVec
	preloadResults    *prometheus.CounterVec
	decisionsRecorded *prometheus.CounterVec
	trackerQueueSize  prometheus.Gauge
	trackerDropped    prometheus.Counter

	// Scheduler metrics
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	// HTTP metrics
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	// Cluster metrics
	gossipMembers prometheus.Gauge
	healthStatus  prometheus.Gauge
}

var (
	globalMetrics *Metrics
	once          sync.Once
)

// NewMetrics creates and registers Prometheus metrics. Metrics register with the
// default registry, so every call after the first returns the same instance.
func NewMetrics(nodeID string) *Metrics {
	once.Do(func() {
		globalMetrics = newMetrics(prometheus.Labels{"node_id": nodeID})
	})
	return globalMetrics
}

func newMetrics(constLabels prometheus.Labels) *Metrics {
	return &Metrics{
		componentLoads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "component_loads_total",
				Help:        "Total number of component load attempts by outcome",
				ConstLabels: constLabels,
			},
			[]string{"component", "tier", "result"},
		),
		componentLoadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "component_load_duration_seconds",
				Help:        "Duration of component initialization",
				Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
				ConstLabels: constLabels,
			},
			[]string{"component", "tier"},
		),
		componentsLoaded: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "components_loaded",
				Help:        "Number of components currently loaded",
				ConstLabels: constLabels,
			},
		),
		componentsRegistered: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "components_registered",
				Help:        "Number of registered components",
				ConstLabels: constLabels,
			},
		),
		bootstrapPhase: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "bootstrap_phase_duration_seconds",
				Help:        "Duration of each bootstrap phase",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"phase"},
		),
		bootstrapComplete: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "bootstrap_complete",
				Help:        "Whether the bootstrap sequence has finished (1 = complete)",
				ConstLabels: constLabels,
			},
		),
		heapUsagePercent: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "heap_usage_percent",
				Help:        "Latest sampled heap usage percentage",
				ConstLabels: constLabels,
			},
		),
		memoryThreshold: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "memory_threshold_percent",
				Help:        "Current dynamic admission threshold",
				ConstLabels: constLabels,
			},
		),
		admissionRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "admission_rejections_total",
				Help:        "Total number of loads deferred for memory pressure",
				ConstLabels: constLabels,
			},
		),
		accessEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "access_events_total",
				Help:        "Total number of component accesses recorded",
				ConstLabels: constLabels,
			},
			[]string{"component"},
		),
		preloadResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "preload_results_total",
				Help:        "Total number of preload outcomes",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		decisionsRecorded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "decisions_recorded_total",
				Help:        "Total number of tier decisions written to the ledger",
				ConstLabels: constLabels,
			},
			[]string{"decision_type"},
		),
		trackerQueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "usage_tracker_queue_size",
				Help:        "Pending usage records waiting to be persisted",
				ConstLabels: constLabels,
			},
		),
		trackerDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "usage_tracker_dropped_total",
				Help:        "Usage records dropped because the queue was full",
				ConstLabels: constLabels,
			},
		),
		jobRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "scheduler_job_runs_total",
				Help:        "Total number of scheduled job runs",
				ConstLabels: constLabels,
			},
			[]string{"job", "status"},
		),
		jobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "scheduler_job_duration_seconds",
				Help:        "Duration of scheduled jobs",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"job"},
		),
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request duration in seconds",
				Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: constLabels,
			},
		),
		gossipMembers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "gossip_members",
				Help:        "Number of live cluster members",
				ConstLabels: constLabels,
			},
		),
		healthStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "health_status",
				Help:        "Health status of the optimizer (1 = healthy, 0 = unhealthy)",
				ConstLabels: constLabels,
			},
		),
	}
}

// RecordComponentLoad records one load attempt. Duration is ignored unless the result is "loaded".
func (m *Metrics) RecordComponentLoad(component, tier, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.componentLoads.WithLabelValues(component, tier, result).Inc()
	if result == "loaded" {
		m.componentLoadDuration.WithLabelValues(component, tier).Observe(duration.Seconds())
	}
}

// UpdateComponentCounts sets the registered and loaded gauges
func (m *Metrics) UpdateComponentCounts(total, loaded int) {
	if m == nil {
		return
	}
	m.componentsRegistered.Set(float64(total))
	m.componentsLoaded.Set(float64(loaded))
}

// RecordBootstrapPhase records how long a bootstrap phase took
func (m *Metrics) RecordBootstrapPhase(phase string, duration time.Duration) {
	if m == nil {
		return
	}
	m.bootstrapPhase.WithLabelValues(phase).Observe(duration.Seconds())
}

// SetBootstrapComplete flags the end of the bootstrap sequence
func (m *Metrics) SetBootstrapComplete(complete bool) {
	if m == nil {
		return
	}
	m.bootstrapComplete.Set(boolToFloat(complete))
}

// UpdateMemory records the latest heap sample and the admission threshold
func (m *Metrics) UpdateMemory(usagePercent, threshold int) {
	if m == nil {
		return
	}
	m.heapUsagePercent.Set(float64(usagePercent))
	m.memoryThreshold.Set(float64(threshold))
}

// RecordAdmissionRejected counts a load deferred for memory pressure
func (m *Metrics) RecordAdmissionRejected() {
	if m == nil {
		return
	}
	m.admissionRejections.Inc()
}

// RecordAccess counts one access event
func (m *Metrics) RecordAccess(component string) {
	if m == nil {
		return
	}
	m.accessEvents.WithLabelValues(component).Inc()
}

// RecordPreload counts one preload outcome (loaded, already_loaded, failed)
func (m *Metrics) RecordPreload(result string) {
	if m == nil {
		return
	}
	m.preloadResults.WithLabelValues(result).Inc()
}

// RecordDecision counts a ledger write
func (m *Metrics) RecordDecision(decisionType string) {
	if m == nil {
		return
	}
	m.decisionsRecorded.WithLabelValues(decisionType).Inc()
}

// UpdateTrackerQueue sets the usage tracker backlog
func (m *Metrics) UpdateTrackerQueue(size int) {
	if m == nil {
		return
	}
	m.trackerQueueSize.Set(float64(size))
}

// RecordTrackerDropped counts a usage record dropped on a full queue
func (m *Metrics) RecordTrackerDropped() {
	if m == nil {
		return
	}
	m.trackerDropped.Inc()
}

// RecordJob records one scheduled job run
func (m *Metrics) RecordJob(job string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests gauge.
func (m *Metrics) IncRequestsInFlight() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests gauge.
func (m *Metrics) DecRequestsInFlight() {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
}

// SetGossipMembers sets the live member count
func (m *Metrics) SetGossipMembers(n int) {
	if m == nil {
		return
	}
	m.gossipMembers.Set(float64(n))
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if m == nil {
		return
	}
	m.healthStatus.Set(boolToFloat(healthy))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MetricsMiddleware creates middleware that records HTTP metrics.
// Route templates are used as the path label when set by the router.
func MetricsMiddleware(m *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncRequestsInFlight()
			defer m.DecRequestsInFlight()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if routeName != nil {
				if name := routeName(r); name != "" {
					path = name
				}
			}
			m.RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
