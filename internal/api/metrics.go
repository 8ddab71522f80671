package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelsec/kestrel/internal/threat"
)

var (
	kestrelRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	kestrelRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	kestrelDetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_detections_total",
		Help: "Total detection cycles by overall threat level.",
	}, []string{"level"})

	kestrelFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_findings_total",
		Help: "Total findings produced by detection cycles, by severity.",
	}, []string{"severity"})

	kestrelDetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_detection_duration_seconds",
		Help:    "Detection cycle duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	kestrelResponseActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_response_actions_total",
		Help: "Total automated remediation actions by action and outcome.",
	}, []string{"action", "outcome"})

	kestrelAuditEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_audit_entries_total",
		Help: "Total response audit entries appended.",
	})

	kestrelWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
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
			path = c.Request.URL.Path
		}

		kestrelRequestsTotal.WithLabelValues(method, path, status).Inc()
		kestrelRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDetection records the outcome of one detection cycle.
// Its signature matches threat.MetricsRecordFunc.
func RecordDetection(res *threat.Result) {
	kestrelDetectionsTotal.WithLabelValues(string(res.OverallLevel)).Inc()
	kestrelDetectionDuration.Observe(float64(res.Meta.ElapsedMS) / 1000)
	for sev, n := range res.Meta.SeverityCounts {
		kestrelFindingsTotal.WithLabelValues(string(sev)).Add(float64(n))
	}
}

// RecordResponseAction records one automated remediation action.
// Its signature matches threat.ActionRecordFunc.
func RecordResponseAction(action string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	kestrelResponseActionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordAuditAppend records a response audit entry append.
func RecordAuditAppend() {
	kestrelAuditEntriesTotal.Inc()
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		kestrelWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		kestrelWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
