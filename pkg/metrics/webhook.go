package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook processing outcomes used as the outcome label value.
const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeRejected  = "rejected"
	WebhookOutcomeFailed    = "failed"
)

// WebhookMetrics records provider webhook traffic and handler latency.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Provider webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_handler_duration_seconds",
		Help:    "Duration of webhook event handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(received, duration)
	return &WebhookMetrics{
		received: received,
		duration: duration,
	}
}

// IncReceived counts a delivery for the given event type and outcome.
func (w *WebhookMetrics) IncReceived(eventType, outcome string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveHandlerDuration records how long an event handler ran.
func (w *WebhookMetrics) ObserveHandlerDuration(eventType string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}
