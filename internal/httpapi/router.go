package httpapi

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"log"
	"net/http"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/config"
	"bizcheck/internal/events"
	"bizcheck/internal/jobs"
	"bizcheck/internal/metrics"
	"bizcheck/internal/payments"
	"bizcheck/internal/probe"
	"bizcheck/internal/ratelimit"
	"bizcheck/internal/session"
	"bizcheck/internal/store"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

const maxBodyBytes = 1 << 20

// SearchAnalyzer runs one synchronous analysis.
type SearchAnalyzer interface {
	Analyze(ctx context.Context, query, location string, radius int) ([]analyzer.EnrichedBusiness, error)
}

type WebsiteChecker interface {
	ProbeWebsite(ctx context.Context, url string) probe.WebsiteStatus
	DeepDive(ctx context.Context, url string) (probe.Insight, error)
}

// Deps are the collaborators behind the routes. Nil Store, Analyzer, Prober,
// Runner or Payments disable the routes that need them.
type Deps struct {
	Config   *config.Live
	Store    *store.Store
	Analyzer SearchAnalyzer
	Prober   WebsiteChecker
	Runner   *jobs.Runner
	Payments payments.Processor
	Sessions *session.Manager
	Bus      *events.Bus
	Metrics  *metrics.Metrics
}

// Router builds HTTP handlers for the search UI, /api and /ops.
type Router struct {
	deps     Deps
	standard *ratelimit.Limiter
	strict   *ratelimit.Limiter
	payment  *ratelimit.Limiter
}

func NewRouter(deps Deps) *Router {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(deps.Config.Load().SessionSecret)
	}
	return &Router{
		deps:     deps,
		standard: ratelimit.NewLimiter(ratelimit.Default),
		strict:   ratelimit.NewLimiter(ratelimit.Strict),
		payment:  ratelimit.NewLimiter(ratelimit.Payment),
	}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", r.index)
	mux.HandleFunc("POST /search", r.limit(r.strict, r.search))
	mux.HandleFunc("POST /check_website", r.limit(r.standard, r.checkWebsite))
	mux.HandleFunc("POST /api/website-deep-dive", r.limit(r.strict, r.deepDive))
	mux.HandleFunc("POST /create-payment-intent", r.limit(r.payment, r.createPaymentIntent))
	mux.HandleFunc("POST /confirm-payment", r.limit(r.payment, r.confirmPayment))
	mux.HandleFunc("GET /payment-status", r.paymentStatus)
	mux.HandleFunc("POST /api/searches", r.limit(r.strict, r.enqueueSearch))
	mux.HandleFunc("GET /api/searches", r.withStore(r.listSearches))
	mux.HandleFunc("GET /api/searches/{id}", r.withStore(r.searchDetail))
	mux.HandleFunc("GET /api/searches/{id}/logs", r.withStore(r.searchLogs))
	mux.HandleFunc("GET /api/export.csv", r.limit(r.standard, r.withStore(r.exportCSV)))
	mux.HandleFunc("GET /api/report.png", r.limit(r.standard, r.withStore(r.reportPNG)))
	mux.HandleFunc("GET /ops/status", r.withStore(r.status))
	mux.HandleFunc("GET /ops/health", r.health)
	mux.HandleFunc("GET /ops/metrics", r.metrics)
	mux.HandleFunc("/", r.notFound)
}

// RunLimiters sweeps stale rate-limit windows until ctx is done.
func (r *Router) RunLimiters(ctx context.Context) {
	for _, l := range []*ratelimit.Limiter{r.standard, r.strict, r.payment} {
		go l.Run(ctx)
	}
}

func (r *Router) index(w http.ResponseWriter, req *http.Request) {
	cfg := r.deps.Config.Load()
	data := struct {
		PublishableKey  string
		FreeResultLimit int
		UpgradePrice    string
		DefaultRadius   int
	}{
		PublishableKey:  cfg.Stripe.PublishableKey,
		FreeResultLimit: cfg.Gate.FreeResultLimit,
		UpgradePrice:    formatPrice(cfg.Gate.UpgradePriceCents),
		DefaultRadius:   cfg.Analyzer.DefaultRadius,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("render index: %v", err)
	}
}

// withStore answers 503 for routes that read stored searches when no store is configured.
func (r *Router) withStore(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.deps.Store == nil {
			respondError(w, http.StatusServiceUnavailable, "Search history is not available")
			return
		}
		next(w, req)
	}
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	searches, err := r.deps.Store.ListSearches(req.Context(), 10)
	if err != nil {
		log.Printf("ops status list searches err=%v", err)
	}
	respondJSON(w, map[string]any{"searches": searches, "workers": r.deps.Config.Load().WorkerCount})
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if r.deps.Store == nil {
		http.Error(w, "store not configured", http.StatusServiceUnavailable)
		return
	}
	if err := r.deps.Store.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) metrics(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, r.deps.Metrics.Snapshot())
}

func (r *Router) notFound(w http.ResponseWriter, req *http.Request) {
	respondError(w, http.StatusNotFound, "Page not found")
}

func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, payload interface{}) {
	respondStatus(w, http.StatusOK, payload)
}

func respondStatus(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write json: %v", err)
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondStatus(w, code, map[string]string{"error": msg})
}
