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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "Total control API requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_http_request_duration_seconds",
			Help:    "Control API request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_checks_total",
			Help: "Periodic notification checks by result",
		},
		[]string{"result"},
	)

	alertsDisplayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_alerts_displayed_total",
			Help: "Native alerts displayed by channel",
		},
		[]string{"channel"},
	)

	duplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_duplicates_suppressed_total",
			Help: "Alerts suppressed by the seen-id set",
		},
	)

	pushReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_push_received_total",
			Help: "Push payloads received by parse outcome",
		},
		[]string{"parse"},
	)

	streamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_stream_reconnects_total",
			Help: "Log stream reconnect attempts",
		},
	)

	streamBufferEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_stream_buffer_entries",
			Help: "Log lines currently retained in the stream buffer",
		},
	)

	storeRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_store_refreshes_total",
			Help: "Notification store refreshes by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records control API request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCheck records a periodic check outcome ("ok", "error", "skipped")
func RecordCheck(result string) {
	checksTotal.WithLabelValues(result).Inc()
}

// RecordAlertDisplayed records a native alert shown on a channel
func RecordAlertDisplayed(channel string) {
	alertsDisplayed.WithLabelValues(channel).Inc()
}

// RecordDuplicateSuppressed records an alert skipped via the seen-id set
func RecordDuplicateSuppressed() {
	duplicatesSuppressed.Inc()
}

// RecordPushReceived records a push payload by parse outcome ("json", "raw")
func RecordPushReceived(parse string) {
	pushReceived.WithLabelValues(parse).Inc()
}

// RecordStreamReconnect records a log stream reconnect attempt
func RecordStreamReconnect() {
	streamReconnects.Inc()
}

// SetStreamBufferEntries sets the retained log line count
func SetStreamBufferEntries(count int) {
	streamBufferEntries.Set(float64(count))
}

// RecordStoreRefresh records a store refresh outcome ("ok", "error")
func RecordStoreRefresh(result string) {
	storeRefreshes.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
