package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/config"
	"bizcheck/internal/events"
	"bizcheck/internal/metrics"
	"bizcheck/internal/places"
	"bizcheck/internal/probe"
	"bizcheck/internal/ratelimit"
	"bizcheck/internal/store"
)

type fakeAnalyzer struct {
	results []analyzer.EnrichedBusiness
	err     error
}

func (f fakeAnalyzer) AnalyzeWithProgress(ctx context.Context, query, location string, radius int, progress analyzer.ProgressFunc) ([]analyzer.EnrichedBusiness, error) {
	for i, b := range f.results {
		progress(i+1, len(f.results), b)
	}
	return f.results, f.err
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.JobQueueSize = 2
	cfg.WorkerCount = 0
	cfg.JobTimeoutSec = 5
	return cfg
}

func openStore(t *testing.T, cfg config.Config) *store.Store {
	t.Helper()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestIdempotentEnqueue(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t, cfg)
	runner := NewRunner(cfg, st, fakeAnalyzer{}, nil, nil)
	ctx := context.Background()
	req := Request{Query: "plumbers", Location: "Austin, TX", Radius: 5000}
	j1, err := runner.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("enqueue1: %v", err)
	}
	j2, err := runner.Enqueue(ctx, Request{Query: " Plumbers", Location: "austin, tx", Radius: 5000})
	if err != nil {
		t.Fatalf("enqueue2: %v", err)
	}
	if j1.ID != j2.ID {
		t.Fatalf("expected idempotent search, got %s vs %s", j1.ID, j2.ID)
	}
	j3, err := runner.Enqueue(ctx, Request{Query: "plumbers", Location: "Austin, TX", Radius: 1000})
	if err != nil {
		t.Fatalf("enqueue3: %v", err)
	}
	if j3.ID == j1.ID {
		t.Fatal("different radius should not share a search")
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobQueueSize = 1
	st := openStore(t, cfg)
	m := metrics.New()
	runner := NewRunner(cfg, st, fakeAnalyzer{}, nil, m)
	ctx := context.Background()
	if _, err := runner.Enqueue(ctx, Request{Query: "a", Location: "x", Radius: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_, err := runner.Enqueue(ctx, Request{Query: "b", Location: "x", Radius: 1})
	if err != ErrQueueFull {
		t.Fatalf("expected queue full, got %v", err)
	}
	snap := m.Snapshot()
	if snap.JobsQueued != 1 || snap.JobsDropped != 1 {
		t.Fatalf("unexpected job counters: %+v", snap)
	}
}

func TestRunnerCompletesSearch(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerCount = 1
	st := openStore(t, cfg)
	bus := events.NewBus()
	sub := bus.Subscribe()
	m := metrics.New()
	results := []analyzer.EnrichedBusiness{
		{Name: "Ace Plumbing", PlaceID: "p1", WebsiteStatus: probe.WebsiteStatus{Status: probe.StatusNoWebsite}, LeadScore: 40},
		{Name: "Best Pipes", PlaceID: "p2", WebsiteStatus: probe.WebsiteStatus{Status: probe.StatusAccessible, Accessible: true}, LeadScore: 75},
	}
	runner := NewRunner(cfg, st, fakeAnalyzer{results: results}, bus, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Stop()

	sr, err := runner.Enqueue(ctx, Request{Query: "plumbers", Location: "Austin", Radius: 5000})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case ev := <-sub:
		done, ok := ev.(events.SearchCompleted)
		if !ok {
			t.Fatalf("unexpected event %T", ev)
		}
		if done.SearchID != sr.ID || len(done.Businesses) != 2 {
			t.Fatalf("unexpected event: %+v", done)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("search did not complete")
	}

	got := waitFinished(t, st, sr.ID)
	if got.Status != store.StatusSucceeded || got.ResultCount != 2 {
		t.Fatalf("unexpected search: %+v", got)
	}
	var decoded []analyzer.EnrichedBusiness
	if err := json.Unmarshal([]byte(*got.ResultsJSON), &decoded); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if decoded[1].LeadScore != 75 {
		t.Fatalf("unexpected decoded results: %+v", decoded)
	}
	logs, err := st.SearchLogs(context.Background(), sr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) < 4 {
		t.Fatalf("expected queued, started, progress and finish lines, got %v", logs)
	}
	waitLogsDropped(t, runner, sr.ID)
	if m.Snapshot().BusinessesAnalyzed != 2 {
		t.Fatalf("expected businesses counter 2, got %+v", m.Snapshot())
	}
}

func TestRunnerRecordsFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerCount = 1
	st := openStore(t, cfg)
	err := fmt.Errorf("%w: nearby search: boom", analyzer.ErrExternalAPI)
	runner := NewRunner(cfg, st, fakeAnalyzer{results: []analyzer.EnrichedBusiness{}, err: err}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Stop()

	sr, err := runner.Enqueue(ctx, Request{Query: "bakeries", Location: "Reno", Radius: 2000})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got := waitFinished(t, st, sr.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "business search service unavailable" {
		t.Fatalf("unexpected error message: %v", got.Error)
	}
}

func TestRunnerLogsHideUpstreamDetail(t *testing.T) {
	cfg := testConfig(t)
	cfg.WorkerCount = 1
	st := openStore(t, cfg)
	srv := httptest.NewServer(nil)
	base := srv.URL
	srv.Close()
	client := places.New("secret-maps-key", places.WithBaseURL(base))
	an := analyzer.New(client, probe.New(), analyzer.WithPagePacer(ratelimit.Nop{}), analyzer.WithBusinessPacer(ratelimit.Nop{}))
	runner := NewRunner(cfg, st, an, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Stop()

	sr, err := runner.Enqueue(ctx, Request{Query: "plumbers", Location: "Austin", Radius: 5000})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got := waitFinished(t, st, sr.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	logs, err := st.SearchLogs(context.Background(), sr.ID)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(logs, "\n")
	if strings.Contains(joined, "secret-maps-key") || strings.Contains(joined, base) {
		t.Fatalf("search log exposes upstream detail: %s", joined)
	}
	if !strings.Contains(joined, "error: business search service unavailable") {
		t.Fatalf("expected public error line, got %s", joined)
	}
}

func TestStartFailsInterruptedSearches(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t, cfg)
	ctx := context.Background()
	req := Request{Query: "plumbers", Location: "Austin", Radius: 5000}

	previous := NewRunner(cfg, st, fakeAnalyzer{}, nil, nil)
	orphan, err := previous.Enqueue(ctx, req)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cfg.WorkerCount = 1
	runner := NewRunner(cfg, st, fakeAnalyzer{results: []analyzer.EnrichedBusiness{}}, nil, nil)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runner.Start(runCtx)
	defer runner.Stop()

	got, err := st.GetSearch(ctx, orphan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusFailed || got.Error == nil || *got.Error != "search interrupted" {
		t.Fatalf("expected interrupted failure, got %+v", got)
	}
	fresh, err := runner.Enqueue(runCtx, req)
	if err != nil {
		t.Fatalf("enqueue after restart: %v", err)
	}
	if fresh.ID == orphan.ID {
		t.Fatal("restart should not reuse the interrupted search")
	}
	if done := waitFinished(t, st, fresh.ID); done.Status != store.StatusSucceeded {
		t.Fatalf("expected new search to run, got %s", done.Status)
	}
}

func waitLogsDropped(t *testing.T, runner *Runner, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(runner.Logs(id)) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("log buffer for %s was not released", id)
}

func waitFinished(t *testing.T, st *store.Store, id string) *store.Search {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sr, err := st.GetSearch(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if sr.FinishedAt != nil {
			return sr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("search %s did not finish", id)
	return nil
}
