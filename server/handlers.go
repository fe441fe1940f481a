package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/waiverly/billing-engine/billing"
	"github.com/waiverly/billing-engine/entitlement"
	"github.com/waiverly/billing-engine/models"
)

// apiHandlers serves the internal billing surface consumed by the rest of the
// application. Tenant identity arrives as a path parameter: authentication
// happens upstream at the application gateway.
type apiHandlers struct {
	sessions  *billing.SessionService
	evaluator *entitlement.Evaluator
	logger    *slog.Logger
}

func (api *apiHandlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (api *apiHandlers) subscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := api.tenantID(w, r)
	if !ok {
		return
	}

	summary, err := api.sessions.Subscription(r.Context(), tenantID)
	if err != nil {
		api.serverError(w, "fetching subscription", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (api *apiHandlers) limits(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := api.tenantID(w, r)
	if !ok {
		return
	}

	summary, err := api.sessions.Limits(r.Context(), tenantID)
	if err != nil {
		api.serverError(w, "fetching limits", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

type checkoutRequest struct {
	PriceRef string `json:"price_ref"`
}

func (api *apiHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := api.tenantID(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	redirectURL, err := api.sessions.CreateCheckoutSession(r.Context(), tenantID, req.PriceRef)
	if err != nil {
		if errors.Is(err, models.ErrTenantNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
			return
		}
		api.serverError(w, "creating checkout session", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"url": redirectURL})
}

func (api *apiHandlers) portal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := api.tenantID(w, r)
	if !ok {
		return
	}

	redirectURL, err := api.sessions.CreatePortalSession(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, billing.ErrNoBillingAccount) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "tenant has no billing account"})
			return
		}
		api.serverError(w, "creating portal session", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"url": redirectURL})
}

// featureCheck answers whether the tenant's plan includes a feature: 204 when
// allowed, 402 when the plan does not include it.
func (api *apiHandlers) featureCheck(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := api.tenantID(w, r)
	if !ok {
		return
	}

	feature := models.Feature(mux.Vars(r)["feature"])

	err := api.evaluator.CheckFeature(r.Context(), tenantID, feature)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case entitlement.IsPlanLimit(err):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	default:
		api.serverError(w, "checking feature", err)
	}
}

func (api *apiHandlers) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(mux.Vars(r)["tenant_id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant id"})
		return uuid.Nil, false
	}
	return tenantID, true
}

func (api *apiHandlers) serverError(w http.ResponseWriter, op string, err error) {
	api.logger.Error(op, slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
