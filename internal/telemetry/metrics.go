// Package telemetry exposes prometheus metrics for configuration fetches,
// flag evaluations, the persistent cache and the sidecar HTTP surface.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flagship_http_requests_total",
			Help: "Total HTTP requests served by the sidecar",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flagship_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flagship_config_fetches_total",
			Help: "Configuration downloads by outcome",
		},
		[]string{"status"},
	)
	fetchDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flagship_config_fetch_duration_seconds",
		Help:    "Configuration download duration in seconds, redirects included",
		Buckets: prometheus.DefBuckets,
	})
	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flagship_evaluations_total",
			Help: "Flag evaluations by reason",
		},
		[]string{"reason"},
	)
	cacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flagship_cache_errors_total",
			Help: "Persistent cache failures by operation",
		},
		[]string{"op"},
	)
	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flagship_webhook_deliveries_total",
			Help: "Config change webhook deliveries by result",
		},
		[]string{"result"},
	)

	ConfigChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagship_config_changes_total",
		Help: "Number of times a new configuration document was loaded",
	})
	SnapshotSettings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagship_snapshot_settings",
		Help: "Number of settings in the current configuration document",
	})
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpReqs, httpDur, fetches, fetchDur, evaluations, cacheErrors, webhookDeliveries, ConfigChanges, SnapshotSettings)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFetch counts a fetch outcome and observes its duration.
func RecordFetch(status string, took time.Duration) {
	fetches.WithLabelValues(status).Inc()
	fetchDur.Observe(took.Seconds())
}

func RecordEvaluation(reason string) {
	evaluations.WithLabelValues(reason).Inc()
}

// RecordCacheError counts a failed persistent cache "read" or "write".
func RecordCacheError(op string) {
	cacheErrors.WithLabelValues(op).Inc()
}

// RecordWebhookDelivery counts a webhook delivery "success", "failure" or "dropped" event.
func RecordWebhookDelivery(result string) {
	webhookDeliveries.WithLabelValues(result).Inc()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// the route pattern is only known once chi has routed the request
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
