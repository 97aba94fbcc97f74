package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP and annotation-engine collectors. It implements
// application.Recorder, so the viewer and persistence services report into
// the same registry the /metrics endpoint serves.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestsInProgress prometheus.Gauge
	requestDuration    *prometheus.HistogramVec

	recordsSaved        prometheus.Counter
	ownershipViolations prometheus.Counter
	annotationsDropped  *prometheus.CounterVec
	saveRequests        *prometheus.CounterVec
	teardownRemoved     *prometheus.CounterVec
	teardownPasses      *prometheus.CounterVec
}

// NewMetrics creates collectors on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "annoscope"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		requestsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_progress",
			Help:      "HTTP requests currently being served",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		recordsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_saved_total",
			Help:      "Annotation records persisted by the server",
		}),
		ownershipViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_violations_total",
			Help:      "Unscoped annotations observed in the shared store",
		}),
		annotationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_dropped_total",
			Help:      "Annotations or groups skipped while saving or injecting",
		}, []string{"reason"}),
		saveRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_requests_total",
			Help:      "Per-image save requests by outcome",
		}, []string{"outcome"}),
		teardownRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_removed_total",
			Help:      "Annotations removed per teardown pass",
		}, []string{"pass"}),
		teardownPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_passes_total",
			Help:      "Teardown passes run",
		}, []string{"pass"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal, m.requestsInProgress, m.requestDuration,
		m.recordsSaved, m.ownershipViolations, m.annotationsDropped,
		m.saveRequests, m.teardownRemoved, m.teardownPasses,
	)
	return m
}

// Middleware tracks request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.requestsInProgress.Inc()
		defer m.requestsInProgress.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordSaved increments the persisted-records counter.
func (m *Metrics) RecordSaved() { m.recordsSaved.Inc() }

func (m *Metrics) OwnershipViolation() { m.ownershipViolations.Inc() }

func (m *Metrics) AnnotationDropped(reason string) {
	m.annotationsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SaveRequest(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.saveRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TeardownPass(pass string, removed int) {
	m.teardownPasses.WithLabelValues(pass).Inc()
	m.teardownRemoved.WithLabelValues(pass).Add(float64(removed))
}
