package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseBillingEvent(t *testing.T) {
	t.Run("should parse a full provider payload", func(t *testing.T) {
		payload := []byte(`{
			"id": "evt_123",
			"type": "subscription_updated",
			"created": 1756700000,
			"data": {
				"customer": "cus_123",
				"subscription": "sub_123",
				"status": "past_due",
				"current_period_end": 1759300000
			}
		}`)

		result := ParseBillingEvent(payload)

		assert.True(t, result.Success())
		event := result.Value()
		assert.Equal(t, "evt_123", event.ID)
		assert.Equal(t, EventSubscriptionUpdated, event.Type)
		assert.Equal(t, "cus_123", event.CustomerID)
		assert.Equal(t, "sub_123", event.SubscriptionID)
		assert.Equal(t, "past_due", event.ProviderStatus)

		occurredAt := event.OccurredAt()
		assert.True(t, occurredAt.Success())
		assert.Equal(t, time.Unix(1756700000, 0).UTC(), occurredAt.Value())

		periodEnd := event.PeriodEndAt()
		assert.True(t, periodEnd.Success())
		assert.Equal(t, time.Unix(1759300000, 0).UTC(), periodEnd.Value())
	})

	t.Run("should fail on payloads without an id or a type", func(t *testing.T) {
		result := ParseBillingEvent([]byte(`{"created": 1756700000}`))

		assert.True(t, result.Failure())
		assert.False(t, result.IsRetryable())
	})

	t.Run("should fail on non JSON payloads", func(t *testing.T) {
		result := ParseBillingEvent([]byte(`not json`))

		assert.True(t, result.Failure())
		assert.False(t, result.IsRetryable())
	})

	t.Run("should fail the timestamp accessors when fields are absent", func(t *testing.T) {
		result := ParseBillingEvent([]byte(`{"id": "evt_123", "type": "checkout_completed"}`))
		assert.True(t, result.Success())

		event := result.Value()
		assert.True(t, event.OccurredAt().Failure())
		assert.True(t, event.PeriodEndAt().Failure())
	})
}

func TestPartitionKeys(t *testing.T) {
	t.Run("should key on both the customer and the subscription", func(t *testing.T) {
		event := &BillingEvent{ID: "evt_1", CustomerID: "cus_1", SubscriptionID: "sub_1"}
		assert.Equal(t, []string{"customer/cus_1", "subscription/sub_1"}, event.PartitionKeys())
	})

	t.Run("should key on the subscription alone when no customer is named", func(t *testing.T) {
		event := &BillingEvent{ID: "evt_1", SubscriptionID: "sub_1"}
		assert.Equal(t, []string{"subscription/sub_1"}, event.PartitionKeys())
	})

	t.Run("should fall back to the event id", func(t *testing.T) {
		event := &BillingEvent{ID: "evt_1"}
		assert.Equal(t, []string{"event/evt_1"}, event.PartitionKeys())
	})

	t.Run("should share a key across differently keyed events for one row", func(t *testing.T) {
		checkout := &BillingEvent{ID: "evt_a", CustomerID: "cus_1", SubscriptionID: "sub_1"}
		update := &BillingEvent{ID: "evt_b", SubscriptionID: "sub_1"}

		assert.Contains(t, checkout.PartitionKeys(), update.PartitionKeys()[0])
	})
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"active":   StatusActive,
		"trialing": StatusActive,
		"canceled": StatusCanceled,
		"past_due": StatusPastDue,
		"unpaid":   StatusPastDue,
	}

	for providerStatus, expected := range cases {
		assert.Equal(t, expected, MapProviderStatus(providerStatus), providerStatus)
	}

	t.Run("should map unknown statuses to past_due", func(t *testing.T) {
		assert.Equal(t, StatusPastDue, MapProviderStatus("incomplete_expired"))
		assert.Equal(t, StatusPastDue, MapProviderStatus(""))
	})
}
