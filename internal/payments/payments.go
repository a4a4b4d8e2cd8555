// Package payments creates and confirms the one-off upgrade payment.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const (
	StatusSucceeded = "succeeded"
	FeatureKey      = "feature"
	FeatureValue    = "full_search_access"
)

var ErrNotConfigured = errors.New("payment processing not configured")

// Intent is the subset of a payment intent the handlers read.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountCents  int64
	Currency     string
}

func (i Intent) Succeeded() bool { return i.Status == StatusSucceeded }

type Processor interface {
	CreateIntent(ctx context.Context, amountCents int64, currency, description string) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
}

// Stripe implements Processor against the Stripe API.
type Stripe struct {
	api *client.API
}

// NewStripe returns nil when secretKey is empty.
func NewStripe(secretKey string, httpClient *http.Client) *Stripe {
	if secretKey == "" {
		return nil
	}
	cfg := &stripe.BackendConfig{}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return NewStripeWithBackend(secretKey, stripe.GetBackendWithConfig(stripe.APIBackend, cfg))
}

// NewStripeWithBackend points the client at backend, used by tests to reach a fake API.
func NewStripeWithBackend(secretKey string, backend stripe.Backend) *Stripe {
	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &Stripe{api: api}
}

func (s *Stripe) CreateIntent(ctx context.Context, amountCents int64, currency, description string) (Intent, error) {
	if s == nil {
		return Intent{}, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(currency),
		Description: stripe.String(description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(FeatureKey, FeatureValue)
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return fromStripe(pi), nil
}

func (s *Stripe) GetIntent(ctx context.Context, id string) (Intent, error) {
	if s == nil {
		return Intent{}, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, fmt.Errorf("retrieve payment intent %s: %w", id, err)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}
}
