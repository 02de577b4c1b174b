// Package metrics provides Prometheus instrumentation for admission control.
package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowit",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "knowit",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AdmissionsTotal counts quota decisions by action kind and outcome.
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowit",
			Name:      "admissions_total",
			Help:      "Total metered action admissions by kind and decision.",
		},
		[]string{"kind", "decision"},
	)

	// RateLimitedTotal counts requests rejected by the address rate limiter.
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowit",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter by endpoint class.",
		},
		[]string{"class"},
	)

	// ReceiptVerificationsTotal counts store verification attempts by result.
	ReceiptVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowit",
			Name:      "receipt_verifications_total",
			Help:      "Total receipt verification attempts by platform and result.",
		},
		[]string{"platform", "result"},
	)

	// SubscriptionActivationsTotal counts subscriptions activated by tier.
	SubscriptionActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowit",
			Name:      "subscription_activations_total",
			Help:      "Total subscription activations by plan tier.",
		},
		[]string{"tier"},
	)

	// StoreNotificationsTotal counts store server notifications by platform and action taken.
	StoreNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knowit",
			Name:      "store_notifications_total",
			Help:      "Total store server notifications by platform and action.",
		},
		[]string{"platform", "action"},
	)

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "knowit", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "knowit", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AdmissionsTotal,
		RateLimitedTotal,
		ReceiptVerificationsTotal,
		SubscriptionActivationsTotal,
		StoreNotificationsTotal,
		DBOpenConnections,
		DBInUseConnections,
	)
}

// StartDBStatsCollector samples sql.DBStats into gauges until ctx is done.
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
			DBInUseConnections.Set(float64(stats.InUse))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps cardinality bounded
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
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
