package entitlement

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/waiverly/billing-engine/models"
	"github.com/waiverly/billing-engine/tests"
)

var selectSubscriptionQuery = regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE tenant_id = $1`)

var subscriptionColumns = []string{
	"id", "tenant_id", "external_customer_id", "external_subscription_id",
	"plan", "status", "current_period_start", "current_period_end",
	"last_event_at", "created_at", "updated_at",
}

func setupEvaluator(t *testing.T) (*Evaluator, sqlmock.Sqlmock, func()) {
	db, mock, cleanup := tests.SetupMockStore(t)

	return NewEvaluator(models.NewStore(db)), mock, cleanup
}

func expectSubscriptionOnPlan(mock sqlmock.Sqlmock, tenantID uuid.UUID, plan models.Plan) {
	now := time.Now()
	mock.ExpectQuery(selectSubscriptionQuery).
		WithArgs(tenantID, 1).
		WillReturnRows(sqlmock.NewRows(subscriptionColumns).
			AddRow(uuid.New(), tenantID, nil, nil, plan, models.StatusActive, now, now.Add(time.Hour), nil, now, now))
}

func TestCheckFormQuota(t *testing.T) {
	t.Run("should allow free tenants below three forms", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		for _, count := range []int64{0, 1, 2} {
			expectSubscriptionOnPlan(mock, tenantID, models.PlanFree)
			assert.NoError(t, evaluator.CheckFormQuota(context.Background(), tenantID, count))
		}
	})

	t.Run("should deny free tenants at three forms", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.PlanFree)

		err := evaluator.CheckFormQuota(context.Background(), tenantID, 3)

		assert.True(t, IsPlanLimit(err))
		assert.EqualError(t, err, "plan limit exceeded: forms")
	})

	t.Run("should deny basic tenants at ten forms", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.PlanBasic)
		assert.NoError(t, evaluator.CheckFormQuota(context.Background(), tenantID, 9))

		expectSubscriptionOnPlan(mock, tenantID, models.PlanBasic)
		assert.True(t, IsPlanLimit(evaluator.CheckFormQuota(context.Background(), tenantID, 10)))
	})

	t.Run("should never deny premium tenants", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.PlanPremium)

		assert.NoError(t, evaluator.CheckFormQuota(context.Background(), tenantID, 1_000_000))
	})
}

func TestCheckSubmissionQuota(t *testing.T) {
	t.Run("should deny free tenants at one hundred submissions", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.PlanFree)
		assert.NoError(t, evaluator.CheckSubmissionQuota(context.Background(), tenantID, 99))

		expectSubscriptionOnPlan(mock, tenantID, models.PlanFree)
		err := evaluator.CheckSubmissionQuota(context.Background(), tenantID, 100)

		assert.True(t, IsPlanLimit(err))
		assert.EqualError(t, err, "plan limit exceeded: submissions")
	})

	t.Run("should deny basic tenants at one thousand submissions", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.PlanBasic)

		assert.True(t, IsPlanLimit(evaluator.CheckSubmissionQuota(context.Background(), tenantID, 1000)))
	})
}

func TestCheckFeature(t *testing.T) {
	t.Run("should deny features the free plan does not include", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.PlanFree)

		err := evaluator.CheckFeature(context.Background(), tenantID, models.FeatureCustomBranding)

		assert.True(t, IsPlanLimit(err))
		assert.EqualError(t, err, "plan limit exceeded: custom_branding")
	})

	t.Run("should allow basic features on the basic plan", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.PlanBasic)

		assert.NoError(t, evaluator.CheckFeature(context.Background(), tenantID, models.FeatureCustomBranding))
	})

	t.Run("should deny premium features on the basic plan", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.PlanBasic)

		assert.True(t, IsPlanLimit(evaluator.CheckFeature(context.Background(), tenantID, models.FeatureAnalytics)))
	})

	t.Run("should allow every feature on the premium plan", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		for _, feature := range models.CatalogEntry(models.PlanPremium).Features {
			expectSubscriptionOnPlan(mock, tenantID, models.PlanPremium)
			assert.NoError(t, evaluator.CheckFeature(context.Background(), tenantID, feature))
		}
	})

	t.Run("should treat an unknown plan as free", func(t *testing.T) {
		evaluator, mock, cleanup := setupEvaluator(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscriptionOnPlan(mock, tenantID, models.Plan("enterprise"))

		assert.True(t, IsPlanLimit(evaluator.CheckFeature(context.Background(), tenantID, models.FeatureCustomBranding)))
	})
}
