package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bizcheck/internal/config"
)

func TestReloadSwapsGate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gate:\n  free_result_limit: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	live := config.NewLive(config.Config{DBPath: "keep.db", Gate: config.DefaultGate()})
	w := New(config.Config{ConfigPath: path, WatchConfig: true}, live)
	if !w.Reload() {
		t.Fatalf("expected reload to apply")
	}
	if got := live.Gate().FreeResultLimit; got != 2 {
		t.Fatalf("expected free limit 2, got %d", got)
	}
	if live.Load().DBPath != "keep.db" {
		t.Fatalf("reload must not touch non-gate settings")
	}
}

func TestReloadIgnoresBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gate: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	live := config.NewLive(config.Config{Gate: config.DefaultGate()})
	w := New(config.Config{ConfigPath: path, WatchConfig: true}, live)
	if w.Reload() {
		t.Fatalf("expected broken file to be skipped")
	}
	if live.Gate() != config.DefaultGate() {
		t.Fatalf("gate changed on broken file: %+v", live.Gate())
	}
}

func TestWatcherPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("gate:\n  free_result_limit: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	live := config.NewLive(config.Config{Gate: config.DefaultGate()})
	w := New(config.Config{ConfigPath: path, WatchConfig: true}, live)
	w.reloads = make(chan config.GateConfig, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := os.WriteFile(path, []byte("gate:\n  free_result_limit: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case g := <-w.reloads:
		if g.FreeResultLimit != 9 {
			t.Fatalf("expected 9, got %d", g.FreeResultLimit)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}
}

func TestDisabledWatcherIsNoop(t *testing.T) {
	live := config.NewLive(config.Config{Gate: config.DefaultGate()})
	w := New(config.Config{ConfigPath: "nowhere.yaml", WatchConfig: false}, live)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
