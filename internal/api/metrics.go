package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunamismax/bitwear/internal/domain"
)

// Metrics is shared between the HTTP server and the orchestrators it drives,
// so it is built before either.
type Metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	attemptsTotal     *prometheus.CounterVec
	attemptPolls      *prometheus.HistogramVec
	attemptDuration   *prometheus.HistogramVec
	ordersTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitwear_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bitwear_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitwear_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitwear_conversion_attempts_total",
			Help: "Finished conversion attempts by mode and outcome.",
		}, []string{"mode", "outcome", "kind"}),
		attemptPolls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bitwear_conversion_attempt_polls",
			Help:    "Status polls issued per asynchronous conversion attempt.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 40, 60},
		}, []string{"mode"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bitwear_conversion_attempt_duration_seconds",
			Help:    "Wall time of conversion attempts.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode", "outcome"}),
		ordersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitwear_orders_total",
			Help: "Order submissions by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.attemptsTotal,
		m.attemptPolls,
		m.attemptDuration,
		m.ordersTotal,
	)
	return m
}

// ObserveAttempt is an orchestrator observer.
func (m *Metrics) ObserveAttempt(r domain.GenerationResult) {
	m.attemptsTotal.WithLabelValues(r.Mode, string(r.Outcome), string(r.ErrorKind())).Inc()
	m.attemptDuration.WithLabelValues(r.Mode, string(r.Outcome)).Observe(r.Duration.Seconds())
	if r.Polls > 0 {
		m.attemptPolls.WithLabelValues(r.Mode).Observe(float64(r.Polls))
	}
}

func (m *Metrics) observeOrder(err error) {
	outcome := "created"
	if err != nil {
		outcome = "failed"
	}
	m.ordersTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel returns the matched chi pattern so session ids never become
// label values. It is only complete once routing has run.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
