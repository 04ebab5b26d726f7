package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "remote_requests_total",
			Help:      "Total number of requests sent to the remote catalog API.",
		},
		[]string{"method", "endpoint", "status"},
	)
	remoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalogsync",
			Name:      "remote_request_duration_seconds",
			Help:      "Histogram of remote catalog API request durations.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "endpoint", "status"},
	)
	syncResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "sync_results_total",
			Help:      "Outcomes of inbound sync and unlink operations.",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(remoteRequestsTotal)
	prometheus.MustRegister(remoteRequestDuration)
	prometheus.MustRegister(syncResultsTotal)
}

// RecordRequest records one remote call. statusCode 0 means a transport error.
func RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	remoteRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	remoteRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordResult counts an inbound operation outcome, e.g. ("sync_product", "ok").
func RecordResult(operation, outcome string) {
	syncResultsTotal.WithLabelValues(operation, outcome).Inc()
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode == 0:
		return "error"
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
