package session

import (
	"context"
	"log"
	"time"
)

// Monitor probes every open session at a fixed interval. A session that
// fails to answer before the next interval is marked not alive on the
// first miss and terminated on the second consecutive miss, so a single
// delayed round-trip never reaps a healthy connection.
type Monitor struct {
	registry *Registry
	interval time.Duration
}

// NewMonitor creates a heartbeat monitor over the registry
func NewMonitor(registry *Registry, interval time.Duration) *Monitor {
	return &Monitor{registry: registry, interval: interval}
}

// Run probes on the monitor's own timer until the context is done. It is
// independent of every session's message loop.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one probe round: settle the previous interval's answers,
// reap two-strike sessions, then probe the survivors.
func (m *Monitor) Tick(ctx context.Context) {
	m.registry.forEachOpen(func(s *Session) {
		misses := s.checkBeat()
		if misses >= 2 {
			log.Printf("💔 [%s] missed %d heartbeats, terminating", short(s.ID), misses)
			m.registry.Unregister(ctx, s.ID)
			return
		}
		if misses == 1 {
			log.Printf("💛 [%s] missed heartbeat", short(s.ID))
		}
		s.Ping()
	})
}
