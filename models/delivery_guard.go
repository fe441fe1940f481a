package models

import (
	"context"
	"strings"
	"time"

	"github.com/waiverly/billing-engine/config/redis"
	"github.com/waiverly/billing-engine/utils"
)

const DELIVERY_KEY_VERSION = "1"

// DeliveryGuarder remembers which event ids have already been processed so
// at-least-once provider deliveries are applied at most once. Release forgets
// an id whose transition did not commit, so the provider's redelivery is not
// mistaken for a duplicate.
type DeliveryGuarder interface {
	FirstDelivery(ctx context.Context, eventID string) utils.Result[bool]
	Release(ctx context.Context, eventID string) error
	Close() error
}

type DeliveryGuard struct {
	db  *redis.RedisDB
	ttl time.Duration
}

func NewDeliveryGuard(db *redis.RedisDB, ttl time.Duration) *DeliveryGuard {
	return &DeliveryGuard{
		db:  db,
		ttl: ttl,
	}
}

// FirstDelivery returns true when the event id has not been seen before and
// records it. The record expires after the guard TTL, which only needs to
// outlive the provider's own retry window.
func (guard *DeliveryGuard) FirstDelivery(ctx context.Context, eventID string) utils.Result[bool] {
	first, err := guard.db.Client.SetNX(ctx, deliveryKey(eventID), "1", guard.ttl).Result()
	if err != nil {
		return utils.FailedResult[bool](err)
	}

	return utils.SuccessResult(first)
}

func (guard *DeliveryGuard) Release(ctx context.Context, eventID string) error {
	return guard.db.Client.Del(ctx, deliveryKey(eventID)).Err()
}

func deliveryKey(eventID string) string {
	return strings.Join([]string{"billing-event", DELIVERY_KEY_VERSION, eventID}, "/")
}

func (guard *DeliveryGuard) Close() error {
	return guard.db.Client.Close()
}
