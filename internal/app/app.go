package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/config"
	"bizcheck/internal/events"
	"bizcheck/internal/httpapi"
	"bizcheck/internal/jobs"
	"bizcheck/internal/leadindex"
	"bizcheck/internal/metrics"
	"bizcheck/internal/notify"
	"bizcheck/internal/payments"
	"bizcheck/internal/places"
	"bizcheck/internal/probe"
	"bizcheck/internal/ratelimit"
	"bizcheck/internal/retention"
	"bizcheck/internal/session"
	"bizcheck/internal/store"
	"bizcheck/internal/watch"
)

// App wires the search service components together.
type App struct {
	cfg       config.Config
	live      *config.Live
	store     *store.Store
	bus       *events.Bus
	metrics   *metrics.Metrics
	runner    *jobs.Runner
	router    *httpapi.Router
	watcher   *watch.Watcher
	sweeper   *retention.Sweeper
	notifier  *notify.Telegram
	leads     *leadindex.Indexer
	mux       *http.ServeMux
	hasSearch bool
}

func New(cfg config.Config) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	live := config.NewLive(cfg)
	m := metrics.New()
	bus := events.NewBus()
	prober := probeCounter{
		Prober: probe.New(
			probe.WithTimeout(cfg.Analyzer.ProbeTimeout()),
			probe.WithUserAgent(cfg.Analyzer.UserAgent),
		),
		metrics: m,
	}

	a := &App{cfg: cfg, live: live, store: st, bus: bus, metrics: m}
	deps := httpapi.Deps{
		Config:   live,
		Store:    st,
		Prober:   prober,
		Sessions: session.NewManager(cfg.SessionSecret, session.WithSecureCookie(cfg.SecureCookies)),
		Bus:      bus,
		Metrics:  m,
	}
	if an := NewAnalyzer(cfg, prober); an != nil {
		a.runner = jobs.NewRunner(cfg, st, an, bus, m)
		deps.Analyzer = an
		deps.Runner = a.runner
		a.hasSearch = true
	} else {
		log.Println("GOOGLE_MAPS_API_KEY not set; searches disabled")
	}
	if sp := payments.NewStripe(cfg.Stripe.SecretKey, nil); sp != nil {
		deps.Payments = sp
	} else {
		log.Println("STRIPE_SECRET_KEY not set; payments disabled")
	}

	if a.notifier, err = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID); err != nil {
		log.Printf("telegram notifier disabled err=%v", err)
		a.notifier = nil
	}
	if a.leads, err = leadindex.New(cfg.ElasticsearchURL, cfg.ElasticsearchIndex, nil); err != nil {
		st.Close()
		return nil, err
	}
	if cfg.RetentionDays > 0 {
		if a.sweeper, err = retention.New(cfg.RetentionSchedule, cfg.RetentionDays, st); err != nil {
			st.Close()
			return nil, err
		}
	}

	a.watcher = watch.New(cfg, live)
	a.router = httpapi.NewRouter(deps)
	a.mux = http.NewServeMux()
	a.router.Register(a.mux)
	return a, nil
}

// NewAnalyzer builds the Google Maps backed analyzer, or nil without an API key.
func NewAnalyzer(cfg config.Config, prober analyzer.WebsiteProber) *analyzer.Analyzer {
	if cfg.Maps.APIKey == "" {
		return nil
	}
	client := places.New(cfg.Maps.APIKey,
		places.WithBaseURL(cfg.Maps.BaseURL),
		places.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Maps.TimeoutSec) * time.Second}),
	)
	return analyzer.New(client, prober,
		analyzer.WithMaxResults(cfg.Analyzer.MaxResults),
		analyzer.WithMaxPages(cfg.Analyzer.MaxPages),
		analyzer.WithPagePacer(ratelimit.NewDelay(cfg.Analyzer.PageTokenDelay())),
		analyzer.WithBusinessPacer(ratelimit.NewInterval(cfg.Analyzer.BusinessDelay())),
		analyzer.WithConcurrency(cfg.Analyzer.Concurrency),
	)
}

// Run starts workers, subscribers, the watcher and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if a.runner != nil {
		a.runner.Start(ctx)
		defer a.runner.Stop()
	}
	a.router.RunLimiters(ctx)
	a.startSubscribers(ctx)
	if err := a.watcher.Start(ctx); err != nil {
		log.Printf("config watcher unavailable path=%s err=%v", a.cfg.ConfigPath, err)
	}
	if a.sweeper != nil {
		a.sweeper.Start()
		defer a.sweeper.Stop()
	}

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("http listening on %s searches=%t", a.cfg.HTTPPort, a.hasSearch)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startSubscribers(ctx context.Context) {
	if a.notifier != nil {
		go a.notifier.Run(ctx, a.bus.Subscribe())
	}
	if a.leads != nil {
		if err := a.leads.EnsureIndex(ctx); err != nil {
			log.Printf("lead index unavailable err=%v", err)
		}
		go a.leads.Run(ctx, a.bus.Subscribe())
	}
}

func (a *App) Runner() *jobs.Runner { return a.runner }
func (a *App) Store() *store.Store  { return a.store }
func (a *App) Mux() *http.ServeMux  { return a.mux }

// probeCounter records every probe outcome in metrics.
type probeCounter struct {
	*probe.Prober
	metrics *metrics.Metrics
}

func (p probeCounter) ProbeWebsite(ctx context.Context, url string) probe.WebsiteStatus {
	status := p.Prober.ProbeWebsite(ctx, url)
	p.metrics.RecordProbe(string(status.Status))
	return status
}
