package entitlement

import (
	"errors"
	"fmt"
)

// PlanLimitError is returned when a tenant attempts an operation beyond its
// plan quota or requiring a feature the plan does not include. It is the only
// entitlement error expected to reach end users, surfaced as a
// payment-required style response by the HTTP layer.
type PlanLimitError struct {
	Reason string
}

func (e *PlanLimitError) Error() string {
	return fmt.Sprintf("plan limit exceeded: %s", e.Reason)
}

func IsPlanLimit(err error) bool {
	var planLimitErr *PlanLimitError
	return errors.As(err, &planLimitErr)
}
