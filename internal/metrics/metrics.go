// Package metrics provides Prometheus metrics for AlertFlow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "alertflow"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Engine metrics
var (
	// AlertsCreatedTotal counts accepted alerts by severity.
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "alerts_created_total",
			Help:      "Total alerts accepted by the engine",
		},
		[]string{"severity"},
	)

	// AlertsSuppressedTotal counts alerts suppressed by the cooldown gate.
	AlertsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "alerts_suppressed_total",
			Help:      "Total alerts suppressed by deduplication",
		},
	)

	// SignalsEvaluatedTotal counts signals run through rule evaluation.
	SignalsEvaluatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "signals_evaluated_total",
			Help:      "Total signals evaluated against rules",
		},
	)

	// AuditWriteFailures counts audit log append failures.
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "audit_write_failures_total",
			Help:      "Total audit log write failures",
		},
	)
)

// Notification metrics
var (
	// NotificationsSentTotal counts successful deliveries by channel.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "sent_total",
			Help:      "Total notifications delivered",
		},
		[]string{"channel"},
	)

	// NotificationsFailedTotal counts permanently failed deliveries by channel.
	NotificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "failed_total",
			Help:      "Total notifications that exhausted retries",
		},
		[]string{"channel"},
	)

	// NotificationRetriesTotal counts scheduled retries by channel.
	NotificationRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "retries_total",
			Help:      "Total notification retries scheduled",
		},
		[]string{"channel"},
	)
)

// Escalation metrics
var (
	// EscalationsArmedTotal counts escalation steps scheduled.
	EscalationsArmedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "armed_total",
			Help:      "Total escalation steps scheduled",
		},
	)

	// EscalationsFiredTotal counts escalation steps fired.
	EscalationsFiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "fired_total",
			Help:      "Total escalation steps fired",
		},
	)

	// EscalationsCancelledTotal counts escalation steps cancelled.
	EscalationsCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "cancelled_total",
			Help:      "Total escalation steps cancelled",
		},
	)
)

// Ingest metrics
var (
	// IngestMessagesTotal counts consumed ingest messages by result.
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Total ingest messages consumed",
		},
		[]string{"result"}, // ok, decode_error, evaluate_error
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
