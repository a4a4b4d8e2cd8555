// Package retention purges old search history on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"bizcheck/internal/config"
	"github.com/robfig/cron/v3"
)

type Purger interface {
	PurgeSearchesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Sweeper struct {
	cron    *cron.Cron
	purger  Purger
	maxAge  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	started bool
}

// New validates schedule and returns a sweeper that keeps days of history.
func New(schedule string, days int, p Purger) (*Sweeper, error) {
	if days <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", days)
	}
	s := &Sweeper{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		purger: p,
		maxAge: time.Duration(days) * 24 * time.Hour,
		now:    config.Now,
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			log.Printf("retention sweep failed err=%v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	return s, nil
}

// RunOnce deletes finished searches older than the retention window.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.purger.PurgeSearchesBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Printf("retention sweep cutoff=%s purged=%d", cutoff.Format(time.RFC3339), n)
	return n, nil
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
}
