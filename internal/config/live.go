package config

import "sync/atomic"

// Live holds the active Config and lets a reloader swap the hot tunables.
type Live struct {
	v atomic.Pointer[Config]
}

func NewLive(cfg Config) *Live {
	l := &Live{}
	l.v.Store(&cfg)
	return l
}

// Load returns a copy of the current configuration.
func (l *Live) Load() Config {
	return *l.v.Load()
}

// Gate returns the current free tier settings.
func (l *Live) Gate() GateConfig {
	return l.v.Load().Gate
}

// SetGate replaces the gate section, leaving everything else untouched.
func (l *Live) SetGate(g GateConfig) {
	for {
		cur := l.v.Load()
		next := *cur
		next.Gate = g
		if l.v.CompareAndSwap(cur, &next) {
			return
		}
	}
}
