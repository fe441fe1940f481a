package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waiverly/billing-engine/billing"
	"github.com/waiverly/billing-engine/entitlement"
	"github.com/waiverly/billing-engine/models"
	"github.com/waiverly/billing-engine/reconciler"
	"github.com/waiverly/billing-engine/tests"
)

var selectSubscriptionQuery = regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE tenant_id = $1`)

var subscriptionColumns = []string{
	"id", "tenant_id", "external_customer_id", "external_subscription_id",
	"plan", "status", "current_period_start", "current_period_end",
	"last_event_at", "created_at", "updated_at",
}

type stubProvider struct{}

func (stubProvider) CreateCustomer(ctx context.Context, params billing.CustomerParams) (string, error) {
	return "cus_stub", nil
}

func (stubProvider) CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (string, error) {
	return "https://pay.provider.test/checkout/cs_stub", nil
}

func (stubProvider) CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error) {
	return "https://pay.provider.test/portal/ps_stub", nil
}

func setupRouter(t *testing.T) (*mux.Router, sqlmock.Sqlmock, func()) {
	db, mock, cleanup := tests.SetupMockStore(t)

	store := models.NewStore(db)
	sessions := billing.NewSessionService(store, stubProvider{}, store, billing.SessionConfig{
		BillingEmailDomain: "billing.waiverly.test",
	})

	api := &apiHandlers{
		sessions:  sessions,
		evaluator: entitlement.NewEvaluator(store),
		logger:    slog.Default(),
	}

	rec := reconciler.NewReconciler(store, nil, nil, reconciler.Config{WebhookSecret: "whsec_test"})

	return newRouter(rec, api), mock, cleanup
}

func expectSubscription(mock sqlmock.Sqlmock, tenantID uuid.UUID, plan models.Plan, customerID any) {
	now := time.Now()
	mock.ExpectQuery(selectSubscriptionQuery).
		WithArgs(tenantID, 1).
		WillReturnRows(sqlmock.NewRows(subscriptionColumns).
			AddRow(uuid.New(), tenantID, customerID, nil, plan, models.StatusActive, now, now.Add(time.Hour), nil, now, now))
}

func TestHealthEndpoint(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSubscriptionEndpoint(t *testing.T) {
	t.Run("should return the tenant's plan and status", func(t *testing.T) {
		router, mock, cleanup := setupRouter(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscription(mock, tenantID, models.PlanBasic, "cus_123")

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/tenants/"+tenantID.String()+"/billing/subscription", nil))

		require.Equal(t, http.StatusOK, resp.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, "basic", body["plan"])
		assert.Equal(t, "active", body["status"])
	})

	t.Run("should reject malformed tenant ids", func(t *testing.T) {
		router, _, cleanup := setupRouter(t)
		defer cleanup()

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/tenants/not-a-uuid/billing/subscription", nil))

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestFeatureCheckEndpoint(t *testing.T) {
	t.Run("should deny paid features on the free plan", func(t *testing.T) {
		router, mock, cleanup := setupRouter(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscription(mock, tenantID, models.PlanFree, nil)

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/tenants/"+tenantID.String()+"/billing/features/custom_branding", nil))

		assert.Equal(t, http.StatusPaymentRequired, resp.Code)
	})

	t.Run("should allow included features", func(t *testing.T) {
		router, mock, cleanup := setupRouter(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscription(mock, tenantID, models.PlanPremium, "cus_123")

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/tenants/"+tenantID.String()+"/billing/features/analytics", nil))

		assert.Equal(t, http.StatusNoContent, resp.Code)
	})
}

func TestPortalEndpoint(t *testing.T) {
	t.Run("should answer 409 for tenants without a billing account", func(t *testing.T) {
		router, mock, cleanup := setupRouter(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscription(mock, tenantID, models.PlanFree, nil)

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/v1/tenants/"+tenantID.String()+"/billing/portal", nil))

		assert.Equal(t, http.StatusConflict, resp.Code)
	})
}

func TestCheckoutEndpoint(t *testing.T) {
	t.Run("should return the provider checkout url", func(t *testing.T) {
		router, mock, cleanup := setupRouter(t)
		defer cleanup()

		tenantID := uuid.New()
		expectSubscription(mock, tenantID, models.PlanFree, "cus_123")

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/v1/tenants/"+tenantID.String()+"/billing/checkout", nil))

		require.Equal(t, http.StatusCreated, resp.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, "https://pay.provider.test/checkout/cs_stub", body["url"])
	})
}

func TestWebhookRoute(t *testing.T) {
	t.Run("should reject unsigned deliveries", func(t *testing.T) {
		router, _, cleanup := setupRouter(t)
		defer cleanup()

		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/webhooks/billing", nil))

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}
