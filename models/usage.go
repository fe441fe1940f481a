package models

import (
	"context"

	"github.com/google/uuid"

	"github.com/waiverly/billing-engine/utils"
)

// Usage counters over the forms and submissions tables. Both tables are
// owned by other modules; this store only ever reads row counts from them.

func (store *Store) CountForms(ctx context.Context, tenantID uuid.UUID) utils.Result[int64] {
	return store.countByTenant(ctx, "forms", tenantID)
}

func (store *Store) CountSubmissions(ctx context.Context, tenantID uuid.UUID) utils.Result[int64] {
	return store.countByTenant(ctx, "submissions", tenantID)
}

func (store *Store) countByTenant(ctx context.Context, table string, tenantID uuid.UUID) utils.Result[int64] {
	var count int64

	result := store.db.Connection.
		WithContext(ctx).
		Table(table).
		Where("tenant_id = ?", tenantID).
		Count(&count)

	if result.Error != nil {
		return utils.FailedResult[int64](result.Error)
	}

	return utils.SuccessResult(count)
}
