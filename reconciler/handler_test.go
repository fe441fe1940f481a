package reconciler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/waiverly/billing-engine/models"
)

func TestWebhookHandler(t *testing.T) {
	t.Run("should acknowledge an authenticated delivery", func(t *testing.T) {
		rec, mock, _, _, cleanup := setupReconciler(t)
		defer cleanup()

		expectLinkedSubscription(mock, selectByCustomerQuery, "cus_123", models.PlanFree, models.StatusActive, nil)
		expectSave(mock)

		payload, header := signedPayload(t, "evt_h1", models.EventCheckoutCompleted, time.Now(), map[string]any{
			"customer": "cus_123",
		})

		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, header)
		resp := httptest.NewRecorder()

		rec.WebhookHandler()(resp, req)

		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("should answer a generic 400 on untrusted deliveries", func(t *testing.T) {
		rec, _, _, _, cleanup := setupReconciler(t)
		defer cleanup()

		payload, _ := signedPayload(t, "evt_h2", models.EventCheckoutCompleted, time.Now(), map[string]any{
			"customer": "cus_123",
		})

		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, "t=123,v1=deadbeef")
		resp := httptest.NewRecorder()

		rec.WebhookHandler()(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "invalid request\n", resp.Body.String())
	})

	t.Run("should answer 400 when the signature header is missing", func(t *testing.T) {
		rec, _, _, _, cleanup := setupReconciler(t)
		defer cleanup()

		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{}`)))
		resp := httptest.NewRecorder()

		rec.WebhookHandler()(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("should answer 500 on transient failures so the provider retries", func(t *testing.T) {
		rec, mock, _, _, cleanup := setupReconciler(t)
		defer cleanup()

		mock.ExpectQuery(selectByCustomerQuery).
			WithArgs("cus_123", 1).
			WillReturnError(assert.AnError)

		payload, header := signedPayload(t, "evt_h3", models.EventCheckoutCompleted, time.Now(), map[string]any{
			"customer": "cus_123",
		})

		req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, header)
		resp := httptest.NewRecorder()

		rec.WebhookHandler()(resp, req)

		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}
