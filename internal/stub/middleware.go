package stub

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the stub's HTTP surface and protocol operations.
var (
	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rastub_http_requests_total",
			Help: "Total number of HTTP requests served.",
		},
		[]string{"method", "path", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rastub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	nonceIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rastub_nonce_issuance_total",
		Help: "Total number of nonces issued.",
	})

	sessionIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rastub_session_issuance_total",
		Help: "Total number of session tokens issued.",
	})

	recordCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rastub_records_created_total",
		Help: "Total number of content records accepted.",
	})

	mediaFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rastub_media_finalized_total",
		Help: "Total number of media uploads finalized.",
	})
)

// timeoutMiddleware bounds request handling to keep a wedged handler from
// holding a connection open indefinitely.
func (h *Handler) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs request details and records request metrics.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		h.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", duration,
		)

		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		requestCount.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		requestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
	})
}

// metricsHandler exposes Prometheus metrics on the main mux.
func (h *Handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
