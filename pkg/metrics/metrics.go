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
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// ConversationsTotal tracks conversations created, by how they came to exist.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"origin"},
	)

	// ConversationsDeletedTotal tracks deleted conversations by deleting role.
	ConversationsDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_deleted_total",
			Help: "Total conversations deleted",
		},
		[]string{"role"},
	)

	// MessagesTotal tracks total messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"role"},
	)

	// MessageDeletionsTotal tracks message deletions by tier.
	MessageDeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_deletions_total",
			Help: "Total message deletions",
		},
		[]string{"tier"},
	)

	// EventsPublishedTotal tracks domain events pushed to JetStream.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Messaging events published to JetStream",
		},
		[]string{"type", "status"},
	)

	// ProvisionedConversationsTotal tracks roster auto-provisioning outcomes.
	ProvisionedConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_provisioned_conversations_total",
			Help: "Conversations auto-provisioned for active tenants",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordEvent records the outcome of publishing a domain event.
func RecordEvent(eventType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// RecordMessageDeletion records the tier applied to a message delete.
func RecordMessageDeletion(permanent bool) {
	tier := "soft"
	if permanent {
		tier = "permanent"
	}
	MessageDeletionsTotal.WithLabelValues(tier).Inc()
}

// RecordProvisioning records a roster auto-provisioning attempt.
func RecordProvisioning(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ProvisionedConversationsTotal.WithLabelValues(status).Inc()
}
