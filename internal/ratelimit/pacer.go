package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer blocks until the caller may issue its next upstream request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Nop never waits.
type Nop struct{}

func (Nop) Wait(ctx context.Context) error { return ctx.Err() }

// Interval spaces successive Wait returns by at least d. The first Wait returns immediately.
type Interval struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func NewInterval(d time.Duration) *Interval {
	return &Interval{interval: d, now: time.Now, sleep: Sleep}
}

func (p *Interval) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() {
		if wait := p.interval - p.now().Sub(p.last); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	p.last = p.now()
	return nil
}

// Delay sleeps a fixed d on every Wait. Continuation tokens only become valid
// some time after they are issued, so the full delay applies each time.
type Delay struct {
	d     time.Duration
	sleep func(context.Context, time.Duration) error
}

func NewDelay(d time.Duration) *Delay {
	return &Delay{d: d, sleep: Sleep}
}

func (p *Delay) Wait(ctx context.Context) error {
	if p.d <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, p.d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
