package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waiverly/billing-engine/models"
	"github.com/waiverly/billing-engine/utils"
)

// ErrNoBillingAccount is returned when a portal session is requested for a
// tenant that has never checked out. It is a client error, not a fault.
var ErrNoBillingAccount = errors.New("tenant has no billing account")

const (
	DefaultBasicPriceRef   = "price_basic_monthly"
	DefaultPremiumPriceRef = "price_premium_monthly"
)

type SessionConfig struct {
	BasicPriceRef      string
	PremiumPriceRef    string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
	BillingEmailDomain string
}

// PriceRefForPlan maps a paid plan to its configured price reference.
func (c SessionConfig) PriceRefForPlan(plan models.Plan) string {
	switch plan {
	case models.PlanPremium:
		return c.PremiumPriceRef
	default:
		return c.BasicPriceRef
	}
}

// UsageCounter exposes the read-only resource counts owned by the forms and
// submissions modules.
type UsageCounter interface {
	CountForms(ctx context.Context, tenantID uuid.UUID) utils.Result[int64]
	CountSubmissions(ctx context.Context, tenantID uuid.UUID) utils.Result[int64]
}

// SessionService creates customer-facing billing sessions with the external
// provider. It never mutates plan or status: those fields change only once
// the reconciler confirms the action through a webhook, so a freshly
// completed checkout does not reflect as active until the event lands.
type SessionService struct {
	store    *models.Store
	provider ProviderClient
	usage    UsageCounter
	config   SessionConfig
	logger   *slog.Logger
}

func NewSessionService(store *models.Store, provider ProviderClient, usage UsageCounter, config SessionConfig) *SessionService {
	logger := slog.Default()
	logger = logger.With("component", "billing-sessions")

	if config.BasicPriceRef == "" {
		config.BasicPriceRef = DefaultBasicPriceRef
	}
	if config.PremiumPriceRef == "" {
		config.PremiumPriceRef = DefaultPremiumPriceRef
	}

	return &SessionService{
		store:    store,
		provider: provider,
		usage:    usage,
		config:   config,
		logger:   logger,
	}
}

// CreateCheckoutSession provisions the provider customer if needed and
// returns the URL of a provider-hosted checkout page pinned to priceRef.
func (s *SessionService) CreateCheckoutSession(ctx context.Context, tenantID uuid.UUID, priceRef string) (string, error) {
	if priceRef == "" {
		priceRef = s.config.BasicPriceRef
	}

	subResult := s.store.GetOrCreateSubscription(ctx, tenantID)
	if subResult.Failure() {
		return "", fmt.Errorf("resolving subscription for tenant %s: %w", tenantID, subResult.Error())
	}

	customerID, err := s.ensureCustomer(ctx, subResult.Value())
	if err != nil {
		return "", err
	}

	redirectURL, err := s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceRef:   priceRef,
		SuccessURL: s.config.CheckoutSuccessURL,
		CancelURL:  s.config.CheckoutCancelURL,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("checkout session created",
		slog.String("tenant_id", tenantID.String()),
		slog.String("price_ref", priceRef),
	)
	return redirectURL, nil
}

// CreatePortalSession returns the URL of the provider's billing management
// portal. The tenant must have checked out at least once before.
func (s *SessionService) CreatePortalSession(ctx context.Context, tenantID uuid.UUID) (string, error) {
	subResult := s.store.GetOrCreateSubscription(ctx, tenantID)
	if subResult.Failure() {
		return "", fmt.Errorf("resolving subscription for tenant %s: %w", tenantID, subResult.Error())
	}

	sub := subResult.Value()
	if !sub.ExternalCustomerID.Valid {
		return "", ErrNoBillingAccount
	}

	return s.provider.CreatePortalSession(ctx, sub.ExternalCustomerID.String, s.config.PortalReturnURL)
}

type SubscriptionSummary struct {
	Plan             models.Plan   `json:"plan"`
	Status           models.Status `json:"status"`
	CurrentPeriodEnd time.Time     `json:"current_period_end"`
}

// Subscription returns the tenant's current plan and status, creating the
// default free subscription on first access.
func (s *SessionService) Subscription(ctx context.Context, tenantID uuid.UUID) (*SubscriptionSummary, error) {
	subResult := s.store.GetOrCreateSubscription(ctx, tenantID)
	if subResult.Failure() {
		return nil, fmt.Errorf("resolving subscription for tenant %s: %w", tenantID, subResult.Error())
	}

	sub := subResult.Value()
	return &SubscriptionSummary{
		Plan:             sub.Plan,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}

type LimitInfo struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

type LimitsSummary struct {
	Forms       LimitInfo `json:"forms"`
	Submissions LimitInfo `json:"submissions"`
}

// Limits returns the tenant's usage against its plan quotas for the billing
// page. Counts come from the owning modules, limits from the plan catalog.
func (s *SessionService) Limits(ctx context.Context, tenantID uuid.UUID) (*LimitsSummary, error) {
	subResult := s.store.GetOrCreateSubscription(ctx, tenantID)
	if subResult.Failure() {
		return nil, fmt.Errorf("resolving subscription for tenant %s: %w", tenantID, subResult.Error())
	}

	limits := models.CatalogEntry(subResult.Value().Plan)

	formsResult := s.usage.CountForms(ctx, tenantID)
	if formsResult.Failure() {
		return nil, formsResult.Error()
	}

	submissionsResult := s.usage.CountSubmissions(ctx, tenantID)
	if submissionsResult.Failure() {
		return nil, submissionsResult.Error()
	}

	return &LimitsSummary{
		Forms:       LimitInfo{Used: formsResult.Value(), Limit: limits.FormsLimit},
		Submissions: LimitInfo{Used: submissionsResult.Value(), Limit: limits.SubmissionsLimit},
	}, nil
}

func (s *SessionService) ensureCustomer(ctx context.Context, sub *models.Subscription) (string, error) {
	if sub.ExternalCustomerID.Valid {
		return sub.ExternalCustomerID.String, nil
	}

	tenantResult := s.store.FetchTenant(ctx, sub.TenantID)
	if tenantResult.Failure() {
		return "", tenantResult.Error()
	}
	tenant := tenantResult.Value()

	customerID, err := s.provider.CreateCustomer(ctx, CustomerParams{
		Email: fmt.Sprintf("%s@%s", tenant.Slug, s.config.BillingEmailDomain),
		Name:  tenant.Name,
	})
	if err != nil {
		return "", err
	}

	assigned := s.store.AssignExternalCustomerID(ctx, sub, customerID)
	if assigned.Failure() {
		return "", assigned.Error()
	}

	// If another caller provisioned a customer first, the stored id wins.
	stored := assigned.Value()
	if stored.ExternalCustomerID.Valid && stored.ExternalCustomerID.String != customerID {
		s.logger.Warn("discarding duplicate provider customer",
			slog.String("tenant_id", sub.TenantID.String()),
			slog.String("customer_id", customerID),
		)
	}

	return stored.ExternalCustomerID.String, nil
}
