package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return ctx.Err()
}

func TestIntervalSpacesCalls(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := NewInterval(500 * time.Millisecond)
	p.now, p.sleep = clk.now, clk.sleep
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if len(clk.slept) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", clk.slept)
	}
	for _, d := range clk.slept {
		if d != 500*time.Millisecond {
			t.Fatalf("expected 500ms sleep, got %v", d)
		}
	}
}

func TestIntervalSkipsSleepWhenEnoughTimePassed(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := NewInterval(time.Second)
	p.now, p.sleep = clk.now, clk.sleep
	ctx := context.Background()
	_ = p.Wait(ctx)
	clk.t = clk.t.Add(2 * time.Second)
	_ = p.Wait(ctx)
	if len(clk.slept) != 0 {
		t.Fatalf("expected no sleep, got %v", clk.slept)
	}
}

func TestDelayHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewDelay(time.Hour).Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLimiterFixedWindow(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	l := NewLimiter(Policy{Limit: 2, Window: time.Minute})
	l.now = clk.now

	if d := l.Allow("ip"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first: %+v", d)
	}
	if d := l.Allow("ip"); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("second: %+v", d)
	}
	d := l.Allow("ip")
	if d.Allowed {
		t.Fatalf("third should be rejected: %+v", d)
	}
	if !d.Reset.Equal(time.Unix(60, 0)) {
		t.Fatalf("unexpected reset %v", d.Reset)
	}
	if d := l.Allow("other"); !d.Allowed {
		t.Fatalf("identifiers must not share windows")
	}
	clk.t = clk.t.Add(time.Minute)
	if d := l.Allow("ip"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("new window should reset: %+v", d)
	}
}

func TestLimiterSweep(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	l := NewLimiter(Default)
	l.now = clk.now
	l.Allow("a")
	clk.t = clk.t.Add(2 * time.Minute)
	l.Allow("b")
	clk.t = clk.t.Add(4 * time.Minute)
	if n := l.Sweep(); n != 1 {
		t.Fatalf("expected 1 stale window removed, got %d", n)
	}
	if _, ok := l.windows["b"]; !ok {
		t.Fatalf("fresh window should survive sweep")
	}
}
