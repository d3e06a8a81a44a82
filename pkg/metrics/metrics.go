// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionsActive tracks open websocket sessions by kind.
	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_sessions_active",
			Help: "Number of open websocket sessions",
		},
		[]string{"kind"},
	)

	// InboundEventsTotal tracks inbound session events by action and outcome.
	InboundEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_inbound_events_total",
			Help: "Inbound websocket events handled",
		},
		[]string{"action", "outcome"},
	)

	// BroadcastDeliveriesTotal tracks group event deliveries to subscribers.
	BroadcastDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Group event deliveries to subscribers",
		},
		[]string{"event", "result"},
	)

	// NotificationsTotal tracks email notification status transitions.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Email notification status transitions",
		},
		[]string{"status", "kind"},
	)

	// EmailSendDuration tracks mail transport latency.
	EmailSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_send_duration_seconds",
			Help:    "Mail transport send duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"transport", "status"},
	)

	// MessagesTotal tracks messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"message_type"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// JanitorRunsTotal tracks periodic cleanup job runs.
	JanitorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "janitor_runs_total",
			Help: "Periodic cleanup job runs",
		},
		[]string{"job", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SessionOpened increments the open session count.
func SessionOpened(kind string) {
	SessionsActive.WithLabelValues(kind).Inc()
}

// SessionClosed decrements the open session count.
func SessionClosed(kind string) {
	SessionsActive.WithLabelValues(kind).Dec()
}

// RecordInboundEvent records one handled inbound event.
func RecordInboundEvent(action, outcome string) {
	InboundEventsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordDelivery records a broadcast delivery attempt.
func RecordDelivery(event string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	BroadcastDeliveriesTotal.WithLabelValues(event, result).Inc()
}

// RecordNotification records a notification reaching a status.
func RecordNotification(status, kind string) {
	NotificationsTotal.WithLabelValues(status, kind).Inc()
}

// RecordEmailSend records a mail transport call.
func RecordEmailSend(transport, status string, duration float64) {
	EmailSendDuration.WithLabelValues(transport, status).Observe(duration)
}

// RecordJanitorRun records a cleanup job run.
func RecordJanitorRun(job, status string) {
	JanitorRunsTotal.WithLabelValues(job, status).Inc()
}
