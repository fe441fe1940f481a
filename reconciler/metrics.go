package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	discardDuplicate = "duplicate"
	discardStale     = "stale"
	discardOrphan    = "orphan"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_received_total",
		Help: "Authenticated webhook events received, by event type.",
	}, []string{"type"})

	eventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_webhook_events_rejected_total",
		Help: "Webhook deliveries rejected for a bad or missing signature.",
	})

	eventsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_discarded_total",
		Help: "Authenticated events deliberately not applied, by reason.",
	}, []string{"reason"})

	transitionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_subscription_transitions_total",
		Help: "Subscription state transitions applied, by event type.",
	}, []string{"type"})
)
