// Package metrics provides Prometheus instrumentation for txsentry.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txsentry",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txsentry",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TransactionsScoredTotal counts scored transactions by outcome
	// (flagged or clean).
	TransactionsScoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txsentry",
			Name:      "transactions_scored_total",
			Help:      "Total transactions scored by outcome.",
		},
		[]string{"outcome"},
	)

	// SignalsTotal counts anomaly signals by detector kind.
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txsentry",
			Name:      "anomaly_signals_total",
			Help:      "Total anomaly signals fired by kind.",
		},
		[]string{"kind"},
	)

	// DetectorErrorsTotal counts detector evaluation failures by detector.
	DetectorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txsentry",
			Name:      "detector_errors_total",
			Help:      "Total detector evaluation errors by detector name.",
		},
		[]string{"detector"},
	)

	// BatchDuration observes end-to-end batch scoring time.
	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "txsentry",
		Name:      "batch_duration_seconds",
		Help:      "Batch scoring duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// BatchSize observes the number of transactions per scored batch.
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "txsentry",
		Name:      "batch_size_transactions",
		Help:      "Transactions per scored batch.",
		Buckets:   []float64{10, 100, 1000, 10000, 100000, 750000},
	})

	// UploadsTotal counts CSV batch uploads by result.
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txsentry",
			Name:      "uploads_total",
			Help:      "Total CSV batch uploads by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "txsentry",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txsentry", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txsentry", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txsentry", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "txsentry", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransactionsScoredTotal,
		SignalsTotal,
		DetectorErrorsTotal,
		BatchDuration,
		BatchSize,
		UploadsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits
// when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path, to bound cardinality
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
