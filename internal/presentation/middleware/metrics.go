package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// Metrics returns a middleware that collects Prometheus metrics
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)

			// Normalize path to avoid high cardinality
			path := normalizePath(r.URL.Path)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// normalizePath normalizes the path to reduce cardinality
func normalizePath(path string) string {
	// For now, return the path as-is
	// In production, you might want to replace UUIDs, IDs, etc.
	return path
}

// RefresherMetrics holds Prometheus metrics for the balance refresher
type RefresherMetrics struct {
	RefreshesTotal   prometheus.Counter
	RefreshErrors    prometheus.Counter
	LastRefreshTime  prometheus.Gauge
	RefreshDuration  prometheus.Histogram
	TotalNetUSDValue prometheus.Gauge
}

// NewRefresherMetrics creates new refresher metrics
func NewRefresherMetrics() *RefresherMetrics {
	return &RefresherMetrics{
		RefreshesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refresher_refreshes_total",
			Help: "Total number of balance refresh runs",
		}),
		RefreshErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refresher_errors_total",
			Help: "Total number of failed balance refresh runs",
		}),
		LastRefreshTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "refresher_last_refresh_timestamp_seconds",
			Help: "Unix timestamp of the last successful refresh",
		}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "refresher_refresh_duration_seconds",
			Help:    "Time taken by one balance refresh run",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		TotalNetUSDValue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "refresher_total_net_usd_value",
			Help: "Net USD value of all tracked balances at the last refresh",
		}),
	}
}
