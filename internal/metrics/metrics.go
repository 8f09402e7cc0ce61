// Package metrics provides Prometheus metrics for tree synchronization.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation outcomes used as the status label.
const (
	StatusOK        = "ok"
	StatusRemote    = "remote_error"
	StatusTransport = "transport_error"
	StatusLocal     = "local_error"
)

var (
	syncOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetree_sync_operations_total",
			Help: "Total tree operations by control verb and outcome",
		},
		[]string{"control", "status"},
	)

	syncRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filetree_sync_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"control"},
	)

	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetree_reconcile_total",
			Help: "Total tree reloads by result",
		},
		[]string{"result"},
	)

	treeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filetree_tree_nodes",
			Help: "Number of files and folders in the current snapshot",
		},
	)

	knownTags = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filetree_known_tags",
			Help: "Number of tags in the current tag index",
		},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filetree_upload_bytes_total",
			Help: "Total bytes sent to the upload endpoint",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filetree_http_requests_total",
			Help: "Total number of HTTP requests served by the dev backend",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filetree_http_request_duration_seconds",
			Help:    "Dev backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOperation records the outcome of a tree operation.
func RecordOperation(control, status string) {
	syncOperationsTotal.WithLabelValues(control, status).Inc()
}

// RecordRequest records a backend round trip.
func RecordRequest(control string, duration time.Duration) {
	syncRequestDuration.WithLabelValues(control).Observe(duration.Seconds())
}

// RecordReconcile records a tree reload and, on success, the new snapshot size.
func RecordReconcile(success bool, nodes, tags int) {
	if !success {
		reconcileTotal.WithLabelValues("error").Inc()
		return
	}
	reconcileTotal.WithLabelValues("success").Inc()
	treeNodes.Set(float64(nodes))
	knownTags.Set(float64(tags))
}

// RecordUpload records bytes sent by an upload.
func RecordUpload(bytes int64) {
	uploadBytesTotal.Add(float64(bytes))
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
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

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
