package entitlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/waiverly/billing-engine/models"
)

// Reasons attached to quota PlanLimitErrors. Feature denials carry the
// feature name instead.
const (
	ReasonForms       = "forms"
	ReasonSubmissions = "submissions"
)

// Evaluator decides whether a tenant may use a capability under its current
// plan. Quota checks are check-then-act guards: callers must run them
// immediately before the gated insert, inside the same transaction where
// practical, so a concurrent creation cannot slip past the limit.
type Evaluator struct {
	store  *models.Store
	logger *slog.Logger
}

func NewEvaluator(store *models.Store) *Evaluator {
	logger := slog.Default()
	logger = logger.With("component", "entitlement")

	return &Evaluator{
		store:  store,
		logger: logger,
	}
}

// CheckFormQuota fails with a PlanLimitError when the tenant's plan does not
// allow one more form on top of currentCount. The count is supplied by the
// forms module, which owns the authoritative number.
func (ev *Evaluator) CheckFormQuota(ctx context.Context, tenantID uuid.UUID, currentCount int64) error {
	limits, err := ev.resolveLimits(ctx, tenantID)
	if err != nil {
		return err
	}

	if !models.WithinLimit(limits.FormsLimit, currentCount) {
		ev.logger.Info("form quota exceeded",
			slog.String("tenant_id", tenantID.String()),
			slog.Int64("count", currentCount),
			slog.Int64("limit", limits.FormsLimit),
		)
		return &PlanLimitError{Reason: ReasonForms}
	}

	return nil
}

// CheckSubmissionQuota is the submissions counterpart of CheckFormQuota.
func (ev *Evaluator) CheckSubmissionQuota(ctx context.Context, tenantID uuid.UUID, currentCount int64) error {
	limits, err := ev.resolveLimits(ctx, tenantID)
	if err != nil {
		return err
	}

	if !models.WithinLimit(limits.SubmissionsLimit, currentCount) {
		ev.logger.Info("submission quota exceeded",
			slog.String("tenant_id", tenantID.String()),
			slog.Int64("count", currentCount),
			slog.Int64("limit", limits.SubmissionsLimit),
		)
		return &PlanLimitError{Reason: ReasonSubmissions}
	}

	return nil
}

// CheckFeature fails with a PlanLimitError naming the feature when the
// tenant's plan does not include it.
func (ev *Evaluator) CheckFeature(ctx context.Context, tenantID uuid.UUID, feature models.Feature) error {
	limits, err := ev.resolveLimits(ctx, tenantID)
	if err != nil {
		return err
	}

	if !limits.HasFeature(feature) {
		return &PlanLimitError{Reason: string(feature)}
	}

	return nil
}

func (ev *Evaluator) resolveLimits(ctx context.Context, tenantID uuid.UUID) (models.PlanLimits, error) {
	subResult := ev.store.GetOrCreateSubscription(ctx, tenantID)
	if subResult.Failure() {
		return models.PlanLimits{}, fmt.Errorf("resolving subscription for tenant %s: %w", tenantID, subResult.Error())
	}

	return models.CatalogEntry(subResult.Value().Plan), nil
}
