package leadindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/events"
)

type fakeES struct {
	mu      sync.Mutex
	created bool
	docs    map[string]Lead
	reject  string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/leads":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/leads":
		f.created = true
		fmt.Fprint(w, `{"acknowledged":true,"index":"leads"}`)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.bulk(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{}`)
	}
}

func (f *fakeES) bulk(w http.ResponseWriter, r *http.Request) {
	type item struct {
		Index map[string]any `json:"index"`
	}
	var items []item
	hasErrors := false
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var action map[string]map[string]any
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, _ := action["index"]["_id"].(string)
		if !sc.Scan() {
			break
		}
		var lead Lead
		_ = json.Unmarshal(sc.Bytes(), &lead)
		if id == f.reject {
			hasErrors = true
			items = append(items, item{Index: map[string]any{
				"_id": id, "status": 400,
				"error": map[string]any{"type": "mapper_parsing_exception", "reason": "bad document"},
			}})
			continue
		}
		f.docs[id] = lead
		items = append(items, item{Index: map[string]any{"_id": id, "status": 201, "result": "created"}})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": hasErrors, "items": items})
}

func newTestIndexer(t *testing.T, es *fakeES) *Indexer {
	t.Helper()
	srv := httptest.NewServer(es)
	t.Cleanup(srv.Close)
	ix, err := New(srv.URL, "leads", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return ix
}

func sampleEvent() events.SearchCompleted {
	site := "https://ace.example"
	return events.SearchCompleted{
		SearchID: "s1",
		Query:    "plumbers",
		Location: "Austin",
		Radius:   5000,
		At:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Businesses: []analyzer.EnrichedBusiness{
			{Name: "Ace", PlaceID: "p1", Website: &site, LeadScore: 60},
			{Name: "Bolt", PlaceID: "p2", LeadScore: 85},
		},
	}
}

func TestNewDisabled(t *testing.T) {
	ix, err := New("", "leads", nil)
	if err != nil || ix != nil {
		t.Fatalf("expected disabled indexer, got %v %v", ix, err)
	}
}

func TestEnsureIndexCreatesOnce(t *testing.T) {
	es := &fakeES{docs: map[string]Lead{}}
	ix := newTestIndexer(t, es)
	if err := ix.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !es.created {
		t.Fatal("expected index to be created")
	}
	if err := ix.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
}

func TestIndexSearch(t *testing.T) {
	es := &fakeES{docs: map[string]Lead{}}
	ix := newTestIndexer(t, es)
	res, err := ix.IndexSearch(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if res.Indexed != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.docs["p1"].HasWebsite || es.docs["p2"].HasWebsite {
		t.Fatalf("unexpected website flags: %+v", es.docs)
	}
	if es.docs["p2"].LeadScore != 85 || es.docs["p2"].Query != "plumbers" || es.docs["p2"].SearchID != "s1" {
		t.Fatalf("unexpected lead: %+v", es.docs["p2"])
	}
}

func TestIndexSearchCountsFailures(t *testing.T) {
	es := &fakeES{docs: map[string]Lead{}, reject: "p2"}
	ix := newTestIndexer(t, es)
	res, err := ix.IndexSearch(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if res.Indexed != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunSkipsFailedSearches(t *testing.T) {
	es := &fakeES{docs: map[string]Lead{}}
	ix := newTestIndexer(t, es)
	failed := sampleEvent()
	failed.SearchID = "s0"
	failed.Err = context.DeadlineExceeded
	ch := make(chan any, 2)
	ch <- failed
	ch <- sampleEvent()
	close(ch)
	ix.Run(context.Background(), ch)

	es.mu.Lock()
	defer es.mu.Unlock()
	if len(es.docs) != 2 || es.docs["p1"].SearchID != "s1" {
		t.Fatalf("unexpected docs: %+v", es.docs)
	}
}
