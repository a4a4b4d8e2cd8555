package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"bizcheck/internal/config"
	"bizcheck/internal/events"
	"bizcheck/internal/payments"
	"bizcheck/internal/store"
)

const upgradeDescription = "Unlock all business search results"

func (r *Router) createPaymentIntent(w http.ResponseWriter, req *http.Request) {
	if r.deps.Payments == nil {
		respondError(w, http.StatusInternalServerError, "Payment processing not configured")
		return
	}
	cfg := r.deps.Config.Load()
	intent, err := r.deps.Payments.CreateIntent(req.Context(), cfg.Gate.UpgradePriceCents, cfg.Gate.Currency, upgradeDescription)
	if err != nil {
		log.Printf("create payment intent err=%v", err)
		respondError(w, http.StatusBadGateway, "Payment service is temporarily unavailable")
		return
	}
	respondJSON(w, map[string]string{
		"client_secret":   intent.ClientSecret,
		"publishable_key": cfg.Stripe.PublishableKey,
	})
}

func (r *Router) confirmPayment(w http.ResponseWriter, req *http.Request) {
	var body struct {
		PaymentIntentID string `json:"payment_intent_id"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	id := strings.TrimSpace(body.PaymentIntentID)
	if id == "" {
		respondError(w, http.StatusBadRequest, "Payment intent ID required")
		return
	}
	if r.deps.Payments == nil {
		respondError(w, http.StatusInternalServerError, "Payment processing not configured")
		return
	}
	intent, err := r.deps.Payments.GetIntent(req.Context(), id)
	if err != nil {
		log.Printf("confirm payment intent_id=%s err=%v", id, err)
		respondError(w, http.StatusBadGateway, "Payment service is temporarily unavailable")
		return
	}
	r.recordPayment(req, intent)
	if !intent.Succeeded() {
		respondError(w, http.StatusBadRequest, "Payment was not successful")
		return
	}
	if err := r.deps.Sessions.SetCookie(w, intent.ID); err != nil {
		log.Printf("issue session intent_id=%s err=%v", id, err)
		respondError(w, http.StatusInternalServerError, "Could not grant access")
		return
	}
	r.deps.Metrics.IncPaymentSucceeded()
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(events.PaymentSucceeded{
			IntentID:    intent.ID,
			AmountCents: intent.AmountCents,
			Currency:    intent.Currency,
			At:          config.Now(),
		})
	}
	log.Printf("payment confirmed intent_id=%s amount_cents=%d", intent.ID, intent.AmountCents)
	respondJSON(w, map[string]any{
		"success": true,
		"message": "Payment successful! You now have access to all search results.",
	})
}

func (r *Router) recordPayment(req *http.Request, intent payments.Intent) {
	if r.deps.Store == nil {
		return
	}
	now := config.Now()
	err := r.deps.Store.RecordPayment(req.Context(), store.Payment{
		IntentID:    intent.ID,
		Status:      intent.Status,
		AmountCents: intent.AmountCents,
		Currency:    intent.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		log.Printf("record payment intent_id=%s err=%v", intent.ID, err)
	}
}

func (r *Router) paymentStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, map[string]bool{"has_paid": r.deps.Sessions.HasPaid(req)})
}

func formatPrice(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}
