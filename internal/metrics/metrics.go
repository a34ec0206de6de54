package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_events_published_total",
			Help: "Total number of events accepted by the publish endpoint",
		},
	)

	PublishBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronicle_publish_batch_size",
			Help:    "Size of published event batches",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to 16384
		},
	)

	// Consumer metrics
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_events_processed_total",
			Help: "Total number of unique events persisted",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_events_dropped_total",
			Help: "Total number of duplicate events dropped",
		},
	)

	EventsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_events_failed_total",
			Help: "Total number of events abandoned after exhausting retries",
		},
	)

	WorkerBackoffs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_worker_backoffs_total",
			Help: "Total number of worker backoff sleeps",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronicle_queue_depth",
			Help: "Current depth of the broker queue",
		},
	)

	// API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronicle_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware wraps HTTP handlers with metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := r.URL.Path

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
