package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/windchill/internal/seal"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "windchill_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "windchill_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	sealsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "windchill_seals_total",
		Help: "Total seal attempts by resulting frame state.",
	}, []string{"state"})

	sealDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "windchill_seal_duration_seconds",
		Help:    "Time from seal request to ledger append.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	auditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "windchill_audits_total",
		Help: "Total full-chain verifications by result.",
	}, []string{"result"})

	auditDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "windchill_audit_duration_seconds",
		Help:    "Full-chain verification duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(.001, 4, 10),
	})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "windchill_webhook_deliveries_total",
		Help: "Total alert webhook deliveries by success status.",
	}, []string{"status"})

	ledgerTrusted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "windchill_ledger_trusted",
		Help: "1 while the ledger chain verifies, 0 once trust is halted.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordSeal records the outcome of one seal attempt. It matches
// seal.MetricsRecordFunc.
func RecordSeal(state seal.State, elapsed time.Duration) {
	sealsTotal.WithLabelValues(state.String()).Inc()
	if state == seal.Sealed {
		sealDuration.Observe(elapsed.Seconds())
	}
}

// RecordAudit records a full-chain verification. It matches
// auditor.MetricsRecordFunc.
func RecordAudit(success bool, elapsed time.Duration) {
	if success {
		auditsTotal.WithLabelValues("success").Inc()
	} else {
		auditsTotal.WithLabelValues("failure").Inc()
	}
	auditDuration.Observe(elapsed.Seconds())
}

// RecordWebhookDelivery records an alert webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// SetTrusted publishes the ledger trust state.
func SetTrusted(trusted bool) {
	if trusted {
		ledgerTrusted.Set(1)
	} else {
		ledgerTrusted.Set(0)
	}
}
