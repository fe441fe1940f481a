package tests

import (
	"context"

	"github.com/waiverly/billing-engine/utils"
)

// MockDeliveryGuard records the event ids it has seen in memory.
type MockDeliveryGuard struct {
	Seen           map[string]bool
	Err            error
	ExecutionCount int
	ReleaseCount   int
}

func NewMockDeliveryGuard() *MockDeliveryGuard {
	return &MockDeliveryGuard{
		Seen: make(map[string]bool),
	}
}

func (guard *MockDeliveryGuard) FirstDelivery(ctx context.Context, eventID string) utils.Result[bool] {
	guard.ExecutionCount++

	if guard.Err != nil {
		return utils.FailedResult[bool](guard.Err)
	}

	if guard.Seen[eventID] {
		return utils.SuccessResult(false)
	}

	guard.Seen[eventID] = true
	return utils.SuccessResult(true)
}

func (guard *MockDeliveryGuard) Release(ctx context.Context, eventID string) error {
	guard.ReleaseCount++

	if guard.Err != nil {
		return guard.Err
	}

	delete(guard.Seen, eventID)
	return nil
}

func (guard *MockDeliveryGuard) Close() error {
	return nil
}
