package watch

import (
	"context"
	"log"
	"path/filepath"

	"bizcheck/internal/config"
	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the config file and swaps the gate tunables on change.
type Watcher struct {
	path    string
	live    *config.Live
	enabled bool
	reloads chan config.GateConfig
}

func New(cfg config.Config, live *config.Live) *Watcher {
	return &Watcher{path: cfg.ConfigPath, live: live, enabled: cfg.WatchConfig}
}

// Start watches the directory holding the config file so editor renames are seen.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.enabled || w.path == "" {
		log.Println("config watcher disabled")
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(w.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher error: %v", err)
			}
		}
	}()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	log.Printf("config watcher started path=%s", target)
	return nil
}

// Reload re-reads the gate section; invalid files leave the current values in place.
func (w *Watcher) Reload() bool {
	gate, err := config.LoadGate(w.path)
	if err != nil {
		log.Printf("config reload skipped path=%s err=%v", w.path, err)
		return false
	}
	prev := w.live.Gate()
	if prev == gate {
		return false
	}
	w.live.SetGate(gate)
	log.Printf("config reloaded free_limit=%d price_cents=%d currency=%s", gate.FreeResultLimit, gate.UpgradePriceCents, gate.Currency)
	if w.reloads != nil {
		select {
		case w.reloads <- gate:
		default:
		}
	}
	return true
}
