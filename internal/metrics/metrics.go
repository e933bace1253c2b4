package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "tabi"

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Queue metrics
	QueueOperationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_queue_operations_total",
			Help: "Total number of queue operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Payment webhook metrics
	PaymentWebhooksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_payment_webhooks_total",
			Help: "Total number of payment webhook deliveries by result",
		},
		[]string{"result"},
	)

	// OTP metrics
	OTPCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_otp_total",
			Help: "Total number of OTP sends and verifications by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Background job metrics
	JobRunsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_job_runs_total",
			Help: "Total number of scheduled job runs by outcome",
		},
		[]string{"job", "outcome"},
	)

	JobAffectedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_job_affected_rows_total",
			Help: "Rows changed by scheduled jobs",
		},
		[]string{"job"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)
)

// Middleware records count and duration for every request.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordQueueOperation counts a join, leave, serve, visit or removal.
func RecordQueueOperation(operation string, err error) {
	QueueOperationsCounter.WithLabelValues(operation, outcome(err)).Inc()
}

// RecordWebhook counts a payment webhook delivery.
func RecordWebhook(result string) {
	PaymentWebhooksCounter.WithLabelValues(result).Inc()
}

// RecordOTP counts an OTP send or verification.
func RecordOTP(operation string, err error) {
	OTPCounter.WithLabelValues(operation, outcome(err)).Inc()
}

// RecordJob counts a scheduled job run and the rows it touched.
func RecordJob(job string, affected int64, err error) {
	JobRunsCounter.WithLabelValues(job, outcome(err)).Inc()
	if affected > 0 {
		JobAffectedRows.WithLabelValues(job).Add(float64(affected))
	}
}
