package models

import (
	"fmt"
	"time"

	"github.com/waiverly/billing-engine/utils"
)

type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentFailed       EventType = "invoice_payment_failed"
)

// BillingEvent is the transient, already-authenticated form of a provider
// webhook notification. It is never persisted.
type BillingEvent struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Created        any       `json:"created"`
	CustomerID     string    `json:"data.customer"`
	SubscriptionID string    `json:"data.subscription"`
	ProviderStatus string    `json:"data.status"`
	PeriodEnd      any       `json:"data.current_period_end"`
}

func ParseBillingEvent(payload []byte) utils.Result[*BillingEvent] {
	var event BillingEvent
	if err := utils.UnmarshalNestedJSON(payload, &event); err != nil {
		return utils.FailedResult[*BillingEvent](err).NonRetryable()
	}

	if event.ID == "" || event.Type == "" {
		return utils.FailedResult[*BillingEvent](
			fmt.Errorf("billing event is missing an id or a type"),
		).NonRetryable()
	}

	return utils.SuccessResult(&event)
}

// OccurredAt is the provider-side creation time of the event, used as the
// ordering guard against stale deliveries.
func (ev *BillingEvent) OccurredAt() utils.Result[time.Time] {
	if ev.Created == nil {
		return utils.FailedResult[time.Time](
			fmt.Errorf("billing event %s has no created timestamp", ev.ID),
		).NonRetryable()
	}
	return utils.ToTime(ev.Created)
}

func (ev *BillingEvent) PeriodEndAt() utils.Result[time.Time] {
	if ev.PeriodEnd == nil {
		return utils.FailedResult[time.Time](
			fmt.Errorf("billing event %s has no current_period_end", ev.ID),
		).NonRetryable()
	}
	return utils.ToTime(ev.PeriodEnd)
}

// PartitionKeys identifies every stable identity this event may touch. Two
// events naming the same subscription row can arrive keyed differently (one
// carrying only the customer id, the other only the subscription id), so both
// candidates are returned and the reconciler serializes on all of them.
func (ev *BillingEvent) PartitionKeys() []string {
	keys := make([]string, 0, 2)
	if ev.CustomerID != "" {
		keys = append(keys, "customer/"+ev.CustomerID)
	}
	if ev.SubscriptionID != "" {
		keys = append(keys, "subscription/"+ev.SubscriptionID)
	}
	if len(keys) == 0 {
		keys = append(keys, "event/"+ev.ID)
	}
	return keys
}

// MapProviderStatus maps a provider subscription status onto the local
// status enum. Unknown values map to past_due as the conservative default.
func MapProviderStatus(providerStatus string) Status {
	switch providerStatus {
	case "active", "trialing":
		return StatusActive
	case "canceled":
		return StatusCanceled
	case "past_due", "unpaid":
		return StatusPastDue
	default:
		return StatusPastDue
	}
}
