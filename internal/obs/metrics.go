package obs

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	scopedSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoped_sessions_total",
			Help: "Principal-scoped database sessions by outcome.",
		},
		[]string{"outcome"},
	)

	idempotencyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_outcomes_total",
			Help: "Idempotency guard decisions by outcome.",
		},
		[]string{"outcome"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the database answered the last readiness probe.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Always 1; labels carry the running version, commit and Go release.",
	}, []string{"version", "commit", "go_version"})
)

// Init registers the service metrics in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			scopedSessions,
			idempotencyOutcomes,
			readyGauge,
			buildInfo,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests. The route label is
// the chi pattern so path parameters do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// ObserveSession counts a scoped session outcome: commit, rollback or setup_failed.
func ObserveSession(outcome string) {
	scopedSessions.WithLabelValues(outcome).Inc()
}

// ObserveIdempotency counts a guard decision: executed, replayed, race_lost or passthrough.
func ObserveIdempotency(outcome string) {
	idempotencyOutcomes.WithLabelValues(outcome).Inc()
}

// SetBuildInfo publishes the running build as the only build_info series.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// SetReady mirrors the last readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
