package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Login counters
	LoginCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agency_login_total",
			Help: "Total number of login attempts",
		},
	)

	// Registration counters
	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agency_register_total",
			Help: "Total number of user registrations",
		},
	)

	// Agency operation counter
	AgencyOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_operations_total",
			Help: "Total number of agency operations",
		},
		[]string{"operation"}, // operation can be "create", "list", "access", etc.
	)

	// Member operation counter
	MemberOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_member_operations_total",
			Help: "Total number of membership operations",
		},
		[]string{"operation"},
	)

	// Todo operation counter
	TodoOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_todo_operations_total",
			Help: "Total number of todo operations",
		},
		[]string{"operation"},
	)

	// Reminder operation counter
	ReminderOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_reminder_operations_total",
			Help: "Total number of reminder operations",
		},
		[]string{"operation"},
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_auth_errors_total",
			Help: "Total number of authentication and authorization errors",
		},
		[]string{"type"}, // type can be "missing_token", "invalid_token", "membership_denied" etc.
	)

	// Security event counter
	SecurityEventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_security_events_total",
			Help: "Total number of recorded security events",
		},
		[]string{"event_type", "severity"},
	)

	// Reminders processed by the cross-tenant batch job
	RemindersProcessedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agency_reminders_processed_total",
			Help: "Total number of reminders marked sent by the processor",
		},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation can be "query", "insert", "update", "delete"
	)
)

// Gauge metrics
var (
	// Active tokens
	ActiveTokensGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agency_active_tokens",
			Help: "Number of currently active session tokens",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agency_info",
			Help: "Information about the agency service",
		},
		[]string{"version"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(AgencyOperationCounter)
	prometheus.MustRegister(MemberOperationCounter)
	prometheus.MustRegister(TodoOperationCounter)
	prometheus.MustRegister(ReminderOperationCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(SecurityEventCounter)
	prometheus.MustRegister(RemindersProcessedCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	// Register gauges
	prometheus.MustRegister(ActiveTokensGauge)
	prometheus.MustRegister(InfoGauge)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// IncreaseActiveTokens increments the active tokens gauge
func IncreaseActiveTokens() {
	ActiveTokensGauge.Inc()
}

// DecreaseActiveTokens decrements the active tokens gauge
func DecreaseActiveTokens() {
	ActiveTokensGauge.Dec()
}

// RecordAuthError records an authentication or authorization error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordSecurityEvent records a security event by type and severity
func RecordSecurityEvent(eventType, severity string) {
	SecurityEventCounter.With(prometheus.Labels{
		"event_type": eventType,
		"severity":   severity,
	}).Inc()
}

// RecordAgencyOperation records an agency operation by type
func RecordAgencyOperation(operation string) {
	AgencyOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordMemberOperation records a membership operation by type
func RecordMemberOperation(operation string) {
	MemberOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordTodoOperation records a todo operation by type
func RecordTodoOperation(operation string) {
	TodoOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordReminderOperation records a reminder operation by type
func RecordReminderOperation(operation string) {
	ReminderOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordRemindersProcessed records how many reminders a processing sweep marked sent
func RecordRemindersProcessed(count int64) {
	RemindersProcessedCounter.Add(float64(count))
}
