package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy is a fixed-window budget: Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Presets used by the HTTP layer.
var (
	Default = Policy{Limit: 60, Window: time.Minute}
	Strict  = Policy{Limit: 10, Window: time.Minute}
	Auth    = Policy{Limit: 20, Window: 5 * time.Minute}
	Payment = Policy{Limit: 10, Window: time.Hour}
)

const staleAfter = 5 * time.Minute

// Decision reports the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

type window struct {
	count int
	start time.Time
}

// Limiter tracks one fixed window per identifier.
type Limiter struct {
	policy  Policy
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewLimiter(p Policy) *Limiter {
	return &Limiter{policy: p, windows: make(map[string]*window), now: time.Now}
}

// Allow counts one request for id and reports whether it fits in the current window.
func (l *Limiter) Allow(id string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[id]
	if !ok || now.Sub(w.start) >= l.policy.Window {
		l.windows[id] = &window{count: 1, start: now}
		return Decision{Allowed: true, Limit: l.policy.Limit, Remaining: l.policy.Limit - 1, Reset: now.Add(l.policy.Window)}
	}
	reset := w.start.Add(l.policy.Window)
	if w.count >= l.policy.Limit {
		return Decision{Allowed: false, Limit: l.policy.Limit, Remaining: 0, Reset: reset}
	}
	w.count++
	return Decision{Allowed: true, Limit: l.policy.Limit, Remaining: l.policy.Limit - w.count, Reset: reset}
}

// Sweep drops windows that started more than five minutes ago and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for id, w := range l.windows {
		if now.Sub(w.start) >= staleAfter && now.Sub(w.start) >= l.policy.Window {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every five minutes until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(staleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
