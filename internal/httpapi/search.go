package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/config"
	"bizcheck/internal/events"
	"bizcheck/internal/jobs"
	"bizcheck/internal/probe"
	"bizcheck/internal/stats"
	"bizcheck/internal/store"
	"github.com/google/uuid"
)

// MaxRadius is the largest radius the nearby search accepts.
const MaxRadius = 50000

// PaymentInfo tells the client how much of a result set it is seeing.
type PaymentInfo struct {
	IsFreeUser   bool    `json:"is_free_user"`
	TotalFound   int     `json:"total_found"`
	Showing      int     `json:"showing"`
	Remaining    int     `json:"remaining"`
	UpgradePrice float64 `json:"upgrade_price"`
}

type searchRequest struct {
	Query    string `json:"query"`
	Location string `json:"location"`
	Radius   *int   `json:"radius"`
}

type searchResponse struct {
	SearchID    string                      `json:"search_id,omitempty"`
	Businesses  []analyzer.EnrichedBusiness `json:"businesses"`
	Statistics  stats.Statistics            `json:"statistics"`
	PaymentInfo PaymentInfo                 `json:"payment_info"`
	Warning     string                      `json:"warning,omitempty"`
}

// Gate truncates businesses for free users. remaining never goes negative.
func Gate(businesses []analyzer.EnrichedBusiness, paid bool, g config.GateConfig) ([]analyzer.EnrichedBusiness, PaymentInfo) {
	shown := businesses
	if !paid && len(shown) > g.FreeResultLimit {
		shown = shown[:g.FreeResultLimit]
	}
	if shown == nil {
		shown = []analyzer.EnrichedBusiness{}
	}
	return shown, PaymentInfo{
		IsFreeUser:   !paid,
		TotalFound:   len(businesses),
		Showing:      len(shown),
		Remaining:    max(0, len(businesses)-len(shown)),
		UpgradePrice: float64(g.UpgradePriceCents) / 100,
	}
}

// gatedResponse builds the response body for a result set. Market analysis
// is part of full access.
func (r *Router) gatedResponse(req *http.Request, businesses []analyzer.EnrichedBusiness) searchResponse {
	paid := r.deps.Sessions.HasPaid(req)
	shown, info := Gate(businesses, paid, r.deps.Config.Gate())
	st := stats.Compute(shown)
	if paid {
		st = stats.WithMarket(shown)
	}
	return searchResponse{Businesses: shown, Statistics: st, PaymentInfo: info}
}

func (r *Router) parseSearch(w http.ResponseWriter, req *http.Request) (jobs.Request, bool) {
	var body searchRequest
	if !decodeJSON(w, req, &body) {
		return jobs.Request{}, false
	}
	out := jobs.Request{
		Query:    strings.TrimSpace(body.Query),
		Location: strings.TrimSpace(body.Location),
		Radius:   r.deps.Config.Load().Analyzer.DefaultRadius,
	}
	if out.Query == "" || out.Location == "" {
		respondError(w, http.StatusBadRequest, "Both query and location are required")
		return jobs.Request{}, false
	}
	if body.Radius != nil && *body.Radius > 0 {
		out.Radius = min(*body.Radius, MaxRadius)
	}
	return out, true
}

func (r *Router) search(w http.ResponseWriter, req *http.Request) {
	if r.deps.Analyzer == nil {
		respondError(w, http.StatusInternalServerError, "Google Maps API key not configured. Please set GOOGLE_MAPS_API_KEY environment variable.")
		return
	}
	in, ok := r.parseSearch(w, req)
	if !ok {
		return
	}
	start := time.Now()
	results, err := r.deps.Analyzer.Analyze(req.Context(), in.Query, in.Location, in.Radius)
	duration := time.Since(start)
	r.deps.Metrics.IncSearch()
	if err != nil && !errors.Is(err, analyzer.ErrLocationNotFound) {
		r.deps.Metrics.IncSearchFailed()
		log.Printf("search failed query=%q location=%q duration_ms=%d err=%v", in.Query, in.Location, duration.Milliseconds(), err)
		if errors.Is(err, analyzer.ErrExternalAPI) {
			respondError(w, http.StatusBadGateway, "Business search service is temporarily unavailable")
			return
		}
		respondError(w, http.StatusInternalServerError, "An error occurred while analyzing businesses")
		return
	}
	r.deps.Metrics.AddBusinesses(len(results))

	id := r.recordSearch(req, in, results, err, duration)
	resp := r.gatedResponse(req, results)
	resp.SearchID = id
	if errors.Is(err, analyzer.ErrLocationNotFound) {
		resp.Warning = fmt.Sprintf("Location %q could not be found", in.Location)
	}
	log.Printf("search search_id=%s status=%s businesses=%d duration_ms=%d", id, store.StatusSucceeded, len(results), duration.Milliseconds())
	respondJSON(w, resp)
}

// recordSearch stores a finished synchronous search and publishes it. Storage
// failures are logged and do not fail the request.
func (r *Router) recordSearch(req *http.Request, in jobs.Request, results []analyzer.EnrichedBusiness, searchErr error, duration time.Duration) string {
	now := config.Now()
	started := now.Add(-duration)
	sr := &store.Search{
		ID:             uuid.NewString(),
		Query:          in.Query,
		Location:       in.Location,
		Radius:         in.Radius,
		Status:         store.StatusSucceeded,
		IdempotencyKey: jobs.IdempotencyKey(in),
		ResultCount:    len(results),
		CreatedAt:      started,
		UpdatedAt:      now,
		StartedAt:      &started,
		FinishedAt:     &now,
	}
	if payload, err := json.Marshal(results); err == nil {
		s := string(payload)
		sr.ResultsJSON = &s
	}
	if searchErr != nil {
		msg := "location not found"
		sr.Error = &msg
	}
	if r.deps.Store != nil {
		if _, err := r.deps.Store.CreateSearch(req.Context(), sr); err != nil {
			log.Printf("record search search_id=%s err=%v", sr.ID, err)
		}
	}
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(events.SearchCompleted{
			SearchID:   sr.ID,
			Query:      in.Query,
			Location:   in.Location,
			Radius:     in.Radius,
			Businesses: results,
			Duration:   duration,
			At:         now,
		})
	}
	return sr.ID
}

func (r *Router) checkWebsite(w http.ResponseWriter, req *http.Request) {
	if r.deps.Prober == nil {
		respondError(w, http.StatusInternalServerError, "Service not available")
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		respondError(w, http.StatusBadRequest, "URL is required")
		return
	}
	respondJSON(w, r.deps.Prober.ProbeWebsite(req.Context(), body.URL))
}

func (r *Router) deepDive(w http.ResponseWriter, req *http.Request) {
	if r.deps.Prober == nil {
		respondError(w, http.StatusInternalServerError, "Service not available")
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		respondError(w, http.StatusBadRequest, "URL is required")
		return
	}
	if !r.deps.Sessions.HasPaid(req) {
		respondError(w, http.StatusPaymentRequired, "Full access is required for this feature")
		return
	}
	insight, err := r.deps.Prober.DeepDive(req.Context(), body.URL)
	if err != nil {
		log.Printf("deep dive url=%q err=%v", body.URL, err)
		if errors.Is(err, probe.ErrNotHTML) {
			respondError(w, http.StatusUnprocessableEntity, "Website did not return an HTML page")
			return
		}
		respondError(w, http.StatusBadGateway, "Could not analyze website")
		return
	}
	respondJSON(w, insight)
}
