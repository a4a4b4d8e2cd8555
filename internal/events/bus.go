package events

import (
	"sync"
	"time"

	"bizcheck/internal/analyzer"
)

// SearchCompleted is published after a search finishes, synchronously or as a job.
type SearchCompleted struct {
	SearchID   string
	Query      string
	Location   string
	Radius     int
	Businesses []analyzer.EnrichedBusiness
	Err        error
	Duration   time.Duration
	At         time.Time
}

// PaymentSucceeded is published once a payment intent is confirmed.
type PaymentSucceeded struct {
	IntentID    string
	AmountCents int64
	Currency    string
	At          time.Time
}

// Bus provides simple in-process pub/sub. Slow subscribers miss events rather than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs []chan any
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe() <-chan any {
	ch := make(chan any, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
