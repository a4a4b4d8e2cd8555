package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/config"
	"bizcheck/internal/events"
	"bizcheck/internal/metrics"
	"bizcheck/internal/store"
	"github.com/google/uuid"
)

const (
	logBufferLimit = 200
	interruptedMsg = "search interrupted"
)

// ErrQueueFull is returned when the job queue cannot accept another search.
var ErrQueueFull = errors.New("queue full")

// Analyzer runs one analysis with per-business progress.
type Analyzer interface {
	AnalyzeWithProgress(ctx context.Context, query, location string, radius int, progress analyzer.ProgressFunc) ([]analyzer.EnrichedBusiness, error)
}

// Request describes one search to run in the background.
type Request struct {
	Query    string `json:"query"`
	Location string `json:"location"`
	Radius   int    `json:"radius"`
}

// Runner executes queued searches on a worker pool.
type Runner struct {
	cfg       config.Config
	store     *store.Store
	analyzer  Analyzer
	bus       *events.Bus
	metrics   *metrics.Metrics
	queue     chan *store.Search
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	logMu     sync.Mutex
	logBuffer map[string][]string
}

// NewRunner constructs a runner. bus and m may be nil.
func NewRunner(cfg config.Config, st *store.Store, an Analyzer, bus *events.Bus, m *metrics.Metrics) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     st,
		analyzer:  an,
		bus:       bus,
		metrics:   m,
		queue:     make(chan *store.Search, max(cfg.JobQueueSize, 1)),
		logBuffer: make(map[string][]string),
	}
}

// Start fails searches left queued or running by a previous process, then
// spins the worker pool.
func (r *Runner) Start(ctx context.Context) {
	if n, err := r.store.FailActiveSearches(ctx, interruptedMsg, config.Now()); err != nil {
		log.Printf("fail interrupted searches err=%v", err)
	} else if n > 0 {
		log.Printf("failed interrupted searches count=%d", n)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for i := 0; i < r.cfg.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	log.Printf("search runner started workers=%d queue=%d", r.cfg.WorkerCount, cap(r.queue))
}

// Stop waits for workers to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Enqueue records a search and queues it. A queued or running search with the
// same inputs is returned instead of a new one.
func (r *Runner) Enqueue(ctx context.Context, req Request) (*store.Search, error) {
	now := config.Now()
	sr := &store.Search{
		ID:             uuid.NewString(),
		Query:          req.Query,
		Location:       req.Location,
		Radius:         req.Radius,
		Status:         store.StatusQueued,
		IdempotencyKey: IdempotencyKey(req),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	existing, err := r.store.InsertSearchIdempotent(ctx, sr)
	if errors.Is(err, store.ErrConflict) {
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	select {
	case r.queue <- existing:
		if r.metrics != nil {
			r.metrics.IncJobQueued()
		}
		r.appendLog(existing.ID, "queued")
		return existing, nil
	default:
		msg := ErrQueueFull.Error()
		_ = r.store.FinishSearch(ctx, existing.ID, store.StatusFailed, 0, nil, &msg, config.Now())
		if r.metrics != nil {
			r.metrics.IncJobDropped()
		}
		return nil, ErrQueueFull
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sr := <-r.queue:
			r.execute(ctx, sr)
		}
	}
}

func (r *Runner) execute(ctx context.Context, sr *store.Search) {
	start := time.Now()
	_ = r.store.MarkSearchStarted(ctx, sr.ID, config.Now())
	r.appendLog(sr.ID, fmt.Sprintf("started query=%q location=%q radius=%d", sr.Query, sr.Location, sr.Radius))

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout())
	defer cancel()
	results, err := r.analyzer.AnalyzeWithProgress(jobCtx, sr.Query, sr.Location, sr.Radius, func(done, total int, b analyzer.EnrichedBusiness) {
		r.appendLog(sr.ID, fmt.Sprintf("analyzed %d/%d place_id=%s website=%s", done, total, b.PlaceID, b.WebsiteStatus.Status))
	})

	status := store.StatusSucceeded
	var errMsg *string
	if err != nil && !errors.Is(err, analyzer.ErrLocationNotFound) {
		status = store.StatusFailed
		msg := publicError(err)
		errMsg = &msg
		r.appendLog(sr.ID, "error: "+msg)
		log.Printf("search failed search_id=%s err=%v", sr.ID, err)
	} else if err != nil {
		msg := "location not found"
		errMsg = &msg
	}
	payload, _ := json.Marshal(results)
	resultsJSON := string(payload)
	if ferr := r.store.FinishSearch(context.Background(), sr.ID, status, len(results), &resultsJSON, errMsg, config.Now()); ferr != nil {
		log.Printf("finish search search_id=%s err=%v", sr.ID, ferr)
	}

	duration := time.Since(start)
	r.appendLog(sr.ID, fmt.Sprintf("%s businesses=%d", status, len(results)))
	log.Printf("job_source=search job=%s duration_ms=%d status=%s", sr.ID, duration.Milliseconds(), status)
	if r.metrics != nil {
		r.metrics.IncSearch()
		r.metrics.AddBusinesses(len(results))
		if status == store.StatusFailed {
			r.metrics.IncSearchFailed()
		}
	}
	if r.bus != nil {
		r.bus.Publish(events.SearchCompleted{
			SearchID:   sr.ID,
			Query:      sr.Query,
			Location:   sr.Location,
			Radius:     sr.Radius,
			Businesses: results,
			Err:        err,
			Duration:   duration,
			At:         config.Now(),
		})
	}
	r.dropLogs(sr.ID)
}

// publicError hides upstream detail from anything a client can read back.
func publicError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "search timed out"
	case errors.Is(err, context.Canceled):
		return "search cancelled"
	case errors.Is(err, analyzer.ErrExternalAPI):
		return "business search service unavailable"
	default:
		return "search failed"
	}
}

func (r *Runner) appendLog(id, msg string) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	ts := config.Now()
	line := fmt.Sprintf("%s %s", ts.Format(time.RFC3339), msg)
	_ = r.store.AppendSearchLog(context.Background(), id, line, ts)
	r.logBuffer[id] = append(r.logBuffer[id], line)
	if len(r.logBuffer[id]) > logBufferLimit {
		r.logBuffer[id] = r.logBuffer[id][len(r.logBuffer[id])-logBufferLimit:]
	}
}

// dropLogs releases the buffer of a finished search. Its lines stay in the store.
func (r *Runner) dropLogs(id string) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	delete(r.logBuffer, id)
}

// Logs returns the in-memory log buffer of a queued or running search.
func (r *Runner) Logs(id string) []string {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	return append([]string(nil), r.logBuffer[id]...)
}

// IdempotencyKey hashes the normalised inputs of a search.
func IdempotencyKey(req Request) string {
	norm := strings.ToLower(strings.TrimSpace(req.Query)) + "|" +
		strings.ToLower(strings.TrimSpace(req.Location)) + "|" +
		strconv.Itoa(req.Radius)
	h := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(h[:])
}
