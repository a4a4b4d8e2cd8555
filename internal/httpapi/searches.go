package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"bizcheck/internal/analyzer"
	"bizcheck/internal/jobs"
	"bizcheck/internal/report"
	"bizcheck/internal/stats"
	"bizcheck/internal/store"
)

type storedSearchResponse struct {
	*store.Search
	Businesses  []analyzer.EnrichedBusiness `json:"businesses,omitempty"`
	Statistics  *stats.Statistics           `json:"statistics,omitempty"`
	PaymentInfo *PaymentInfo                `json:"payment_info,omitempty"`
}

func (r *Router) enqueueSearch(w http.ResponseWriter, req *http.Request) {
	if r.deps.Runner == nil {
		respondError(w, http.StatusServiceUnavailable, "Background searches are not available")
		return
	}
	in, ok := r.parseSearch(w, req)
	if !ok {
		return
	}
	sr, err := r.deps.Runner.Enqueue(req.Context(), in)
	if errors.Is(err, jobs.ErrQueueFull) {
		respondError(w, http.StatusServiceUnavailable, "Search queue is full, try again shortly")
		return
	}
	if err != nil {
		log.Printf("enqueue search err=%v", err)
		respondError(w, http.StatusInternalServerError, "Could not queue search")
		return
	}
	respondStatus(w, http.StatusAccepted, map[string]string{"search_id": sr.ID, "status": sr.Status})
}

func (r *Router) listSearches(w http.ResponseWriter, req *http.Request) {
	list, err := r.deps.Store.ListSearches(req.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, list)
}

func (r *Router) searchDetail(w http.ResponseWriter, req *http.Request) {
	sr, ok := r.loadSearch(w, req, req.PathValue("id"))
	if !ok {
		return
	}
	out := storedSearchResponse{Search: sr}
	if sr.ResultsJSON != nil {
		businesses, err := decodeResults(sr)
		if err != nil {
			log.Printf("decode results search_id=%s err=%v", sr.ID, err)
			respondError(w, http.StatusInternalServerError, "Stored results are unreadable")
			return
		}
		resp := r.gatedResponse(req, businesses)
		out.Businesses = resp.Businesses
		out.Statistics = &resp.Statistics
		out.PaymentInfo = &resp.PaymentInfo
	}
	respondJSON(w, out)
}

func (r *Router) searchLogs(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if r.deps.Runner != nil {
		if logs := r.deps.Runner.Logs(id); len(logs) > 0 {
			respondJSON(w, logs)
			return
		}
	}
	logs, err := r.deps.Store.SearchLogs(req.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []string{}
	}
	respondJSON(w, logs)
}

func (r *Router) exportCSV(w http.ResponseWriter, req *http.Request) {
	resp, sr, ok := r.finishedResults(w, req)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="business-search-%s.csv"`, sr.ID))
	if err := stats.WriteCSV(w, resp.Businesses, resp.Statistics); err != nil {
		log.Printf("export csv search_id=%s err=%v", sr.ID, err)
	}
}

func (r *Router) reportPNG(w http.ResponseWriter, req *http.Request) {
	resp, sr, ok := r.finishedResults(w, req)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	title := fmt.Sprintf("%s near %s", sr.Query, sr.Location)
	if err := report.Render(w, title, resp.Statistics); err != nil {
		log.Printf("render report search_id=%s err=%v", sr.ID, err)
	}
}

// finishedResults loads the search named by ?search_id= and gates its results.
func (r *Router) finishedResults(w http.ResponseWriter, req *http.Request) (searchResponse, *store.Search, bool) {
	id := req.URL.Query().Get("search_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "search_id is required")
		return searchResponse{}, nil, false
	}
	sr, ok := r.loadSearch(w, req, id)
	if !ok {
		return searchResponse{}, nil, false
	}
	if sr.ResultsJSON == nil {
		respondError(w, http.StatusConflict, "Search has not finished yet")
		return searchResponse{}, nil, false
	}
	businesses, err := decodeResults(sr)
	if err != nil {
		log.Printf("decode results search_id=%s err=%v", sr.ID, err)
		respondError(w, http.StatusInternalServerError, "Stored results are unreadable")
		return searchResponse{}, nil, false
	}
	return r.gatedResponse(req, businesses), sr, true
}

func (r *Router) loadSearch(w http.ResponseWriter, req *http.Request, id string) (*store.Search, bool) {
	sr, err := r.deps.Store.GetSearch(req.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Search not found")
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return sr, true
}

func decodeResults(sr *store.Search) ([]analyzer.EnrichedBusiness, error) {
	var out []analyzer.EnrichedBusiness
	if err := json.Unmarshal([]byte(*sr.ResultsJSON), &out); err != nil {
		return nil, err
	}
	return out, nil
}
