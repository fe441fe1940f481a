package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/waiverly/billing-engine/utils"
)

// ErrTenantNotFound signals a data-integrity fault: an operation referenced
// a tenant that does not exist. It is never surfaced to end users.
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is a read-only projection of the tenants table, owned by the
// identity module. Only the display data needed for provider customer
// provisioning is mapped.
type Tenant struct {
	ID        uuid.UUID `gorm:"primaryKey;->"`
	Name      string    `gorm:"->"`
	Slug      string    `gorm:"->"`
	CreatedAt time.Time `gorm:"->"`
}

func (store *Store) FetchTenant(ctx context.Context, tenantID uuid.UUID) utils.Result[*Tenant] {
	var tenant Tenant

	result := store.db.Connection.
		WithContext(ctx).
		Table("tenants").
		Where("id = ?", tenantID).
		Limit(1).
		Find(&tenant)

	if result.Error != nil {
		return utils.FailedResult[*Tenant](result.Error)
	}
	if tenant.ID == uuid.Nil {
		return utils.FailedResult[*Tenant](ErrTenantNotFound).NonRetryable()
	}

	return utils.SuccessResult(&tenant)
}
