package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ProviderError wraps a failed call against the external billing provider.
// Provider failures are retryable by the caller's own policy; they are never
// retried here to avoid duplicate side effects on the provider side.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("billing provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("billing provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the call may be retried. Network failures, open
// breaker, rate limiting and provider 5xx are transient; other 4xx are not.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type CustomerParams struct {
	Email string
	Name  string
}

type CheckoutParams struct {
	CustomerID string
	PriceRef   string
	SuccessURL string
	CancelURL  string
}

// ProviderClient is the surface this subsystem needs from the external
// billing provider. Calls are synchronous, unbounded-latency network calls.
type ProviderClient interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error)
}

type ProviderConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// providerObject is the subset of any provider response this client reads.
type providerObject struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// HTTPProvider talks to the provider's REST API. Calls run through a circuit
// breaker so a provider outage fails fast instead of piling up requests.
type HTTPProvider struct {
	config  ProviderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[providerObject]
	logger  *slog.Logger
}

func NewHTTPProvider(config ProviderConfig) *HTTPProvider {
	logger := slog.Default()
	logger = logger.With("component", "billing-provider")

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[providerObject](gobreaker.Settings{
		Name:    "billing-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("provider breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &HTTPProvider{
		config:  config,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

func (p *HTTPProvider) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	form := url.Values{}
	form.Set("email", params.Email)
	form.Set("name", params.Name)

	object, err := p.postForm(ctx, "customer.create", "/v1/customers", form)
	if err != nil {
		return "", err
	}

	return object.ID, nil
}

func (p *HTTPProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", params.CustomerID)
	form.Set("price", params.PriceRef)
	form.Set("quantity", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)

	object, err := p.postForm(ctx, "checkout.session.create", "/v1/checkout/sessions", form)
	if err != nil {
		return "", err
	}

	return object.URL, nil
}

func (p *HTTPProvider) CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	object, err := p.postForm(ctx, "portal.session.create", "/v1/billing_portal/sessions", form)
	if err != nil {
		return "", err
	}

	return object.URL, nil
}

func (p *HTTPProvider) postForm(ctx context.Context, op string, path string, form url.Values) (providerObject, error) {
	object, err := p.breaker.Execute(func() (providerObject, error) {
		return p.doPostForm(ctx, op, path, form)
	})
	if err != nil {
		var providerErr *ProviderError
		if !errors.As(err, &providerErr) {
			// Breaker open or request never issued
			err = &ProviderError{Op: op, Err: err}
		}
		return providerObject{}, err
	}

	return object, nil
}

func (p *HTTPProvider) doPostForm(ctx context.Context, op string, path string, form url.Values) (providerObject, error) {
	endpoint := strings.TrimSuffix(p.config.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return providerObject{}, &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+p.config.SecretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return providerObject{}, &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return providerObject{}, &ProviderError{Op: op, Err: err}
	}

	if resp.StatusCode >= 400 {
		p.logger.Error("provider call failed",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)
		return providerObject{}, &ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var object providerObject
	if err := json.Unmarshal(body, &object); err != nil {
		return providerObject{}, &ProviderError{Op: op, Err: err}
	}

	return object, nil
}
