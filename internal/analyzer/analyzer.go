package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bizcheck/internal/places"
	"bizcheck/internal/probe"
	"bizcheck/internal/ratelimit"
)

const (
	// MaxResults is the hard cap on businesses returned by one search.
	MaxResults = 60
	// PageSize is the number of results Google returns per nearby page.
	PageSize = 20
	// MaxPages bounds nearby search calls per search.
	MaxPages = 3

	defaultPageDelay     = 2 * time.Second
	defaultBusinessDelay = 500 * time.Millisecond
)

var (
	// ErrLocationNotFound means the location text geocoded to nothing.
	ErrLocationNotFound = errors.New("location not found")
	// ErrExternalAPI wraps every upstream failure at search level.
	ErrExternalAPI = errors.New("external api failure")
)

// PlacesAPI is the geocoding and places backend.
type PlacesAPI interface {
	Geocode(ctx context.Context, address string) (*places.LatLng, error)
	NearbySearch(ctx context.Context, req places.NearbyRequest) (places.NearbyPage, error)
	PlaceDetails(ctx context.Context, placeID string, fields []string) (places.Detail, error)
}

// WebsiteProber checks one website.
type WebsiteProber interface {
	ProbeWebsite(ctx context.Context, rawURL string) probe.WebsiteStatus
}

// ProgressFunc is called once per analysed business with the number done so far.
type ProgressFunc func(done, total int, b EnrichedBusiness)

// Analyzer runs search, details and probing for one query at a time.
type Analyzer struct {
	places        PlacesAPI
	prober        WebsiteProber
	maxResults    int
	maxPages      int
	pagePacer     ratelimit.Pacer
	businessPacer ratelimit.Pacer
	concurrency   int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithMaxResults lowers the result cap; values outside 1..60 are ignored.
func WithMaxResults(n int) Option {
	return func(a *Analyzer) {
		if n > 0 && n <= MaxResults {
			a.maxResults = n
		}
	}
}

// WithMaxPages lowers the page cap; values outside 1..3 are ignored.
func WithMaxPages(n int) Option {
	return func(a *Analyzer) {
		if n > 0 && n <= MaxPages {
			a.maxPages = n
		}
	}
}

// WithPagePacer replaces the wait applied before each continuation token is used.
func WithPagePacer(p ratelimit.Pacer) Option {
	return func(a *Analyzer) {
		if p != nil {
			a.pagePacer = p
		}
	}
}

// WithBusinessPacer replaces the spacing between business analyses.
func WithBusinessPacer(p ratelimit.Pacer) Option {
	return func(a *Analyzer) {
		if p != nil {
			a.businessPacer = p
		}
	}
}

// WithConcurrency sets how many businesses are analysed at once. 1 is fully sequential.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func New(p PlacesAPI, w WebsiteProber, opts ...Option) *Analyzer {
	a := &Analyzer{
		places:        p,
		prober:        w,
		maxResults:    MaxResults,
		maxPages:      MaxPages,
		pagePacer:     ratelimit.NewDelay(defaultPageDelay),
		businessPacer: ratelimit.NewInterval(defaultBusinessDelay),
		concurrency:   1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search geocodes location and collects up to maxResults nearby businesses in API order.
func (a *Analyzer) Search(ctx context.Context, query, location string, radius int) ([]BusinessSummary, error) {
	coords, err := a.places.Geocode(ctx, location)
	if err != nil {
		log.Printf("search geocode failed location=%q err=%v", location, err)
		return []BusinessSummary{}, fmt.Errorf("%w: geocode: %w", ErrExternalAPI, err)
	}
	if coords == nil {
		log.Printf("search location not found location=%q", location)
		return []BusinessSummary{}, ErrLocationNotFound
	}

	summaries := make([]BusinessSummary, 0, PageSize)
	token := ""
	for page := 0; page < a.maxPages; page++ {
		if page > 0 {
			if err := a.pagePacer.Wait(ctx); err != nil {
				return []BusinessSummary{}, err
			}
		}
		resp, err := a.places.NearbySearch(ctx, places.NearbyRequest{
			Location:     *coords,
			RadiusMeters: radius,
			Keyword:      query,
			PageToken:    token,
		})
		if err != nil {
			log.Printf("search nearby failed query=%q page=%d err=%v", query, page+1, err)
			return []BusinessSummary{}, fmt.Errorf("%w: nearby search: %w", ErrExternalAPI, err)
		}
		for _, p := range resp.Results {
			if p.PlaceID == "" {
				log.Printf("search skipped result without place_id name=%q", p.Name)
				continue
			}
			summaries = append(summaries, summaryFromPlace(p))
		}
		token = resp.NextPageToken
		if token == "" || len(summaries) >= a.maxResults {
			break
		}
	}
	if len(summaries) > a.maxResults {
		summaries = summaries[:a.maxResults]
	}
	log.Printf("search query=%q location=%q radius_m=%d found=%d", query, location, radius, len(summaries))
	return summaries, nil
}

// FetchDetails returns the details record for placeID. On failure every field is nil.
func (a *Analyzer) FetchDetails(ctx context.Context, placeID string) (BusinessDetail, error) {
	raw, err := a.places.PlaceDetails(ctx, placeID, DetailFields)
	if err != nil {
		log.Printf("details failed place_id=%s err=%v", placeID, err)
		return BusinessDetail{}, fmt.Errorf("%w: details %s: %w", ErrExternalAPI, placeID, err)
	}
	return detailFromPlace(raw), nil
}

// ProbeWebsite delegates to the configured prober.
func (a *Analyzer) ProbeWebsite(ctx context.Context, rawURL string) probe.WebsiteStatus {
	return a.prober.ProbeWebsite(ctx, rawURL)
}

// Analyze runs Search and enriches every summary, preserving search order.
func (a *Analyzer) Analyze(ctx context.Context, query, location string, radius int) ([]EnrichedBusiness, error) {
	return a.AnalyzeWithProgress(ctx, query, location, radius, nil)
}

// AnalyzeWithProgress is Analyze with a per-business callback. A failing
// business never aborts the batch; only search failures and cancellation are
// returned, always with an empty slice.
func (a *Analyzer) AnalyzeWithProgress(ctx context.Context, query, location string, radius int, progress ProgressFunc) ([]EnrichedBusiness, error) {
	start := time.Now()
	summaries, err := a.Search(ctx, query, location, radius)
	if err != nil {
		return []EnrichedBusiness{}, err
	}
	results := make([]EnrichedBusiness, len(summaries))
	total := len(summaries)

	var mu sync.Mutex
	done := 0
	report := func(b EnrichedBusiness) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		progress(done, total, b)
	}

	workers := a.concurrency
	if workers > total {
		workers = total
	}
	sem := make(chan struct{}, max(workers, 1))
	var wg sync.WaitGroup
	for i, s := range summaries {
		if err := a.businessPacer.Wait(ctx); err != nil {
			wg.Wait()
			return []EnrichedBusiness{}, err
		}
		if workers <= 1 {
			results[i] = a.enrich(ctx, s)
			report(results[i])
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, s BusinessSummary) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = a.enrich(ctx, s)
			report(results[i])
		}(i, s)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return []EnrichedBusiness{}, err
	}

	accessible := 0
	for _, b := range results {
		if b.WebsiteStatus.Accessible {
			accessible++
		}
	}
	log.Printf("analyze query=%q location=%q businesses=%d accessible=%d duration_ms=%d",
		query, location, len(results), accessible, time.Since(start).Milliseconds())
	return results, nil
}

func (a *Analyzer) enrich(ctx context.Context, s BusinessSummary) (b EnrichedBusiness) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("analyze business panic place_id=%s err=%v", s.PlaceID, r)
			b = merge(s, BusinessDetail{}, probe.WebsiteStatus{Status: probe.StatusNoWebsite})
			b.LeadScore = LeadScore(b)
		}
	}()
	detail, _ := a.FetchDetails(ctx, s.PlaceID)
	website := ""
	if detail.Website != nil {
		website = *detail.Website
	}
	b = merge(s, detail, a.prober.ProbeWebsite(ctx, website))
	b.LeadScore = LeadScore(b)
	return b
}
