// Package middleware provides HTTP middleware for the risk service
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskcore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "riskcore",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)

	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskcore",
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
		},
		[]string{"service", "method", "path"},
	)

	// Domain metrics, exported for use by the risk package

	// AssessmentsTotal counts completed assessments by decision.
	AssessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "assessments_total",
			Help:      "Total number of risk assessments",
		},
		[]string{"risk_level", "fallback"}, // risk_level: ALLOW, REVIEW, DENY; fallback: true, false
	)

	// RiskScoreHistogram tracks the confidence score distribution.
	RiskScoreHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskcore",
			Name:      "risk_score",
			Help:      "Confidence score distribution for assessments",
			Buckets:   []float64{0, 10, 25, 50, 75, 90, 100}, // 0-100 scale
		},
		[]string{"risk_level"},
	)

	// ReputationLookupsTotal counts provider lookups by outcome.
	ReputationLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "reputation_lookups_total",
			Help:      "Total number of IP reputation lookups",
		},
		[]string{"mode", "outcome"}, // mode: live, mock, cache; outcome: success, failure
	)

	// ReputationLookupDuration measures provider round-trip latency.
	ReputationLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskcore",
			Name:      "reputation_lookup_duration_seconds",
			Help:      "Reputation provider lookup latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	// AccessPurgedTotal counts access records removed by the retention job.
	AccessPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "riskcore",
			Name:      "access_records_purged_total",
			Help:      "Total number of device access records removed by retention",
		},
	)
)

// PrometheusMetrics returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func PrometheusMetrics(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		// Skip metrics endpoint itself to avoid recursion
		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		size := float64(c.Writer.Size())

		httpRequestsTotal.WithLabelValues(serviceName, method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, method, path).Observe(duration)
		httpResponseSize.WithLabelValues(serviceName, method, path).Observe(size)
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
// Register this on the "/metrics" route.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
