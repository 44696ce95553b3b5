// Package metrics exposes Prometheus collectors for the gateway and scrape service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway outcomes.
const (
	OutcomeForwarded      = "forwarded"
	OutcomeUnknownService = "unknown_service"
	OutcomeBackendError   = "backend_error"

	// UnknownServiceLabel replaces client-supplied service names that are not
	// in the route table so they cannot mint new series.
	UnknownServiceLabel = "_unknown"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
		},
		[]string{"method", "route"},
	)

	gatewayProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Requests seen by the gateway dispatcher, labeled by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	scrapeJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_jobs_total",
			Help: "Total number of scrape jobs finished, labeled by terminal status.",
		},
		[]string{"status"},
	)

	scrapeJobDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scrape_job_duration_seconds",
			Help:    "Wall time of the external crawler process per job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	scrapeActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrape_active_jobs",
			Help: "Number of crawler processes currently running.",
		},
	)

	historySkippedFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scrape_history_skipped_files_total",
			Help: "History artifacts skipped because they could not be read or parsed.",
		},
	)

	extractRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extract_requests_total",
			Help: "Text extraction calls, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	watchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watch_events_total",
			Help: "Watched file changes handled, labeled by outcome.",
		},
		[]string{"outcome"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Flush keeps streamed proxy responses flowing through the recorder.
func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProxy records one gateway dispatch decision. Unknown services are
// folded into UnknownServiceLabel.
func ObserveProxy(service, outcome string) {
	if outcome == OutcomeUnknownService {
		service = UnknownServiceLabel
	}
	gatewayProxyRequestsTotal.WithLabelValues(service, outcome).Inc()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	scrapeJobsTotal.WithLabelValues(status).Inc()
}

// ObserveJobDuration records how long a crawler process ran.
func ObserveJobDuration(d time.Duration) {
	scrapeJobDurationSeconds.Observe(d.Seconds())
}

// IncActiveJobs increments the running crawler gauge.
func IncActiveJobs() {
	scrapeActiveJobs.Inc()
}

// DecActiveJobs decrements the running crawler gauge.
func DecActiveJobs() {
	scrapeActiveJobs.Dec()
}

// ObserveHistorySkip counts one skipped history artifact.
func ObserveHistorySkip() {
	historySkippedFilesTotal.Inc()
}

// ObserveExtract counts one extraction call.
func ObserveExtract(outcome string) {
	extractRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWatch counts one handled watch event.
func ObserveWatch(outcome string) {
	watchEventsTotal.WithLabelValues(outcome).Inc()
}
