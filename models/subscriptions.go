package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/waiverly/billing-engine/utils"
)

// FreePeriod is the nominal period window applied to free subscriptions.
// It carries no billing meaning, it only keeps the period columns non-null.
const FreePeriod = 365 * 24 * time.Hour

type Subscription struct {
	ID                     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID               uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null" json:"tenant_id"`
	ExternalCustomerID     sql.NullString `gorm:"index" json:"-"`
	ExternalSubscriptionID sql.NullString `gorm:"index" json:"-"`
	Plan                   Plan           `gorm:"not null" json:"plan"`
	Status                 Status         `gorm:"not null" json:"status"`
	CurrentPeriodStart     time.Time      `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd       time.Time      `gorm:"not null" json:"current_period_end"`
	LastEventAt            sql.NullTime   `json:"-"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

func (sub *Subscription) BeforeCreate(tx *gorm.DB) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return nil
}

// StaleEvent reports whether an event occurred before the last event already
// applied to this subscription. Stale events must be discarded so an
// out-of-order or re-delivered notification cannot overwrite fresher state.
func (sub *Subscription) StaleEvent(occurredAt time.Time) bool {
	return sub.LastEventAt.Valid && !occurredAt.After(sub.LastEventAt.Time)
}

func defaultSubscription(tenantID uuid.UUID) *Subscription {
	now := time.Now().UTC()
	return &Subscription{
		TenantID:           tenantID,
		Plan:               PlanFree,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(FreePeriod),
	}
}

// GetOrCreateSubscription returns the tenant's subscription, creating the
// default free row on first access. Concurrent first-access callers are
// resolved by the unique index on tenant_id: the insert does nothing on
// conflict and the row the winner created is read back.
func (store *Store) GetOrCreateSubscription(ctx context.Context, tenantID uuid.UUID) utils.Result[*Subscription] {
	found := store.findSubscription(ctx, "tenant_id = ?", tenantID)
	if found.Success() || !IsNotFound(found) {
		return found
	}

	sub := defaultSubscription(tenantID)
	result := store.db.Connection.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoNothing: true,
		}).
		Create(sub)
	if result.Error != nil {
		return utils.FailedResult[*Subscription](result.Error)
	}

	if result.RowsAffected == 0 {
		// Lost the race against a concurrent creator, their row wins
		return store.findSubscription(ctx, "tenant_id = ?", tenantID)
	}

	return utils.SuccessResult(sub)
}

// FindSubscriptionByExternalCustomerID resolves the subscription linked to a
// provider customer. A not-found result is expected during reconciliation
// (orphan events) and is flagged non-retryable and non-capturable.
func (store *Store) FindSubscriptionByExternalCustomerID(ctx context.Context, customerID string) utils.Result[*Subscription] {
	if customerID == "" {
		return failedSubscriptionResult(gorm.ErrRecordNotFound)
	}
	return store.findSubscription(ctx, "external_customer_id = ?", customerID)
}

func (store *Store) FindSubscriptionByExternalSubscriptionID(ctx context.Context, subscriptionID string) utils.Result[*Subscription] {
	if subscriptionID == "" {
		return failedSubscriptionResult(gorm.ErrRecordNotFound)
	}
	return store.findSubscription(ctx, "external_subscription_id = ?", subscriptionID)
}

func (store *Store) SaveSubscription(ctx context.Context, sub *Subscription) utils.Result[*Subscription] {
	result := store.db.Connection.WithContext(ctx).Save(sub)
	if result.Error != nil {
		return utils.FailedResult[*Subscription](result.Error)
	}

	return utils.SuccessResult(sub)
}

// AssignExternalCustomerID persists the provider customer id on first
// provisioning. The id is written once: if another caller already linked a
// customer, the stored value wins and is returned unchanged.
func (store *Store) AssignExternalCustomerID(ctx context.Context, sub *Subscription, customerID string) utils.Result[*Subscription] {
	result := store.db.Connection.
		WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ? AND external_customer_id IS NULL", sub.ID).
		Update("external_customer_id", customerID)
	if result.Error != nil {
		return utils.FailedResult[*Subscription](result.Error)
	}

	if result.RowsAffected == 0 {
		return store.findSubscription(ctx, "id = ?", sub.ID)
	}

	sub.ExternalCustomerID = sql.NullString{String: customerID, Valid: true}
	return utils.SuccessResult(sub)
}

func (store *Store) findSubscription(ctx context.Context, condition string, value any) utils.Result[*Subscription] {
	var sub Subscription

	result := store.db.Connection.
		WithContext(ctx).
		Where(condition, value).
		Limit(1).
		Find(&sub)

	if result.Error != nil {
		return failedSubscriptionResult(result.Error)
	}
	if sub.ID == uuid.Nil {
		return failedSubscriptionResult(gorm.ErrRecordNotFound)
	}

	return utils.SuccessResult(&sub)
}

func failedSubscriptionResult(err error) utils.Result[*Subscription] {
	result := utils.FailedResult[*Subscription](err)

	if err.Error() == gorm.ErrRecordNotFound.Error() {
		result = result.NonCapturable().NonRetryable()
	}

	return result
}
