package metrics

import (
	"sync"
	"sync/atomic"
)

// Metrics holds process-wide counters exposed at /ops/metrics.
type Metrics struct {
	searches          atomic.Int64
	searchesFailed    atomic.Int64
	businesses        atomic.Int64
	paymentsSucceeded atomic.Int64
	jobsQueued        atomic.Int64
	jobsDropped       atomic.Int64
	rateLimited       atomic.Int64

	mu     sync.Mutex
	probes map[string]int64
}

func New() *Metrics {
	return &Metrics{probes: make(map[string]int64)}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Searches           int64            `json:"searches"`
	SearchesFailed     int64            `json:"searches_failed"`
	BusinessesAnalyzed int64            `json:"businesses_analyzed"`
	PaymentsSucceeded  int64            `json:"payments_succeeded"`
	JobsQueued         int64            `json:"jobs_queued"`
	JobsDropped        int64            `json:"jobs_dropped"`
	RateLimited        int64            `json:"rate_limited"`
	Probes             map[string]int64 `json:"probes"`
}

func (m *Metrics) IncSearch()           { m.searches.Add(1) }
func (m *Metrics) IncSearchFailed()     { m.searchesFailed.Add(1) }
func (m *Metrics) AddBusinesses(n int)  { m.businesses.Add(int64(n)) }
func (m *Metrics) IncPaymentSucceeded() { m.paymentsSucceeded.Add(1) }
func (m *Metrics) IncJobQueued()        { m.jobsQueued.Add(1) }
func (m *Metrics) IncJobDropped()       { m.jobsDropped.Add(1) }
func (m *Metrics) IncRateLimited()      { m.rateLimited.Add(1) }

// RecordProbe counts one website probe by its status tag.
func (m *Metrics) RecordProbe(tag string) {
	m.mu.Lock()
	m.probes[tag]++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	probes := make(map[string]int64, len(m.probes))
	for k, v := range m.probes {
		probes[k] = v
	}
	m.mu.Unlock()
	return Snapshot{
		Searches:           m.searches.Load(),
		SearchesFailed:     m.searchesFailed.Load(),
		BusinessesAnalyzed: m.businesses.Load(),
		PaymentsSucceeded:  m.paymentsSucceeded.Load(),
		JobsQueued:         m.jobsQueued.Load(),
		JobsDropped:        m.jobsDropped.Load(),
		RateLimited:        m.rateLimited.Load(),
		Probes:             probes,
	}
}
