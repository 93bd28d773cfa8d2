// Package metrics provides Prometheus metrics for the profile administration tools.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epadmin_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epadmin_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Record store gateway metrics
	gatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epadmin_gateway_requests_total",
			Help: "Total requests issued to the remote record store",
		},
		[]string{"op", "status"},
	)

	gatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epadmin_gateway_request_duration_seconds",
			Help:    "Remote record store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Sync engine metrics
	syncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epadmin_sync_operations_total",
			Help: "Total collection sync operations",
		},
		[]string{"op", "collection", "result"},
	)

	defaultUnsetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epadmin_default_unsets_total",
			Help: "Records whose default flag was cleared to keep a single default",
		},
		[]string{"collection"},
	)

	// Directory listing metrics
	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epadmin_listings_total",
			Help: "Total directory listings served or requested",
		},
		[]string{"collection", "result"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epadmin_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epadmin_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epadmin_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epadmin_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Notification metrics
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epadmin_events_total",
			Help: "Total notifications published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric under its route label.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	route := Route(path)
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Route maps a request path to a bounded label. The namespaced listing
// path carries a user and app, so it is folded into "dirlist".
func Route(path string) string {
	switch {
	case path == "/health":
		return "health"
	case path == "/metrics":
		return "metrics"
	case strings.HasSuffix(strings.TrimRight(path, "/"), "_dirlist"):
		return "dirlist"
	default:
		return "other"
	}
}

// RecordGatewayRequest records one remote record store call. status is the HTTP
// status, or 0 for a transport failure.
func RecordGatewayRequest(op string, status int, duration time.Duration) {
	gatewayRequestsTotal.WithLabelValues(op, strconv.Itoa(status)).Inc()
	gatewayRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSyncOperation records the outcome of a sync engine operation.
func RecordSyncOperation(op, collection string, success bool) {
	syncOperationsTotal.WithLabelValues(op, collection, result(success)).Inc()
}

// RecordDefaultUnsets records how many competing defaults were cleared.
func RecordDefaultUnsets(collection string, n int) {
	defaultUnsetsTotal.WithLabelValues(collection).Add(float64(n))
}

// RecordListing records a directory listing.
func RecordListing(collection string, success bool) {
	listingsTotal.WithLabelValues(collection, result(success)).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, result(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	r := "success"
	if !success {
		r = "failure"
	}
	authAttemptsTotal.WithLabelValues(r).Inc()
}

// RecordEvent records a published notification.
func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
