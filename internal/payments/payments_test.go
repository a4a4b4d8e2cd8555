package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stripe/stripe-go/v76"
)

type sentForm struct {
	mu   sync.Mutex
	form url.Values
}

func (f *sentForm) get(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form.Get(key)
}

func fakeStripe(t *testing.T) (*Stripe, *sentForm) {
	t.Helper()
	created := &sentForm{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			created.mu.Lock()
			created.form = r.PostForm
			created.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":            "pi_new",
				"object":        "payment_intent",
				"client_secret": "pi_new_secret",
				"status":        "requires_payment_method",
				"amount":        600,
				"currency":      "usd",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_paid":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":       "pi_paid",
				"object":   "payment_intent",
				"status":   "succeeded",
				"amount":   600,
				"currency": "usd",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"type": "invalid_request_error", "message": "No such payment_intent"},
			})
		}
	}))
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	return NewStripeWithBackend("sk_test_123", backend), created
}

func TestCreateIntent(t *testing.T) {
	s, created := fakeStripe(t)
	intent, err := s.CreateIntent(context.Background(), 600, "usd", "Full search results access")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if intent.ID != "pi_new" || intent.ClientSecret != "pi_new_secret" || intent.Succeeded() {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if got := created.get("amount"); got != "600" {
		t.Fatalf("amount sent = %q", got)
	}
	if got := created.get("metadata[feature]"); got != FeatureValue {
		t.Fatalf("metadata sent = %q", got)
	}
}

func TestGetIntent(t *testing.T) {
	s, _ := fakeStripe(t)
	intent, err := s.GetIntent(context.Background(), "pi_paid")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !intent.Succeeded() || intent.AmountCents != 600 || intent.Currency != "usd" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if _, err := s.GetIntent(context.Background(), "pi_missing"); err == nil {
		t.Fatal("expected error for unknown intent")
	}
}

func TestNotConfigured(t *testing.T) {
	s := NewStripe("", nil)
	if s != nil {
		t.Fatal("expected nil processor without a key")
	}
	if _, err := s.CreateIntent(context.Background(), 600, "usd", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
