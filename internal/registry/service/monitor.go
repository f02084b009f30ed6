package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartMonitor runs the periodic liveness scan until the context is done.
// The scan is observability only: unhealthy instances stay registered.
func (r *Registry) StartMonitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.scanOnce()
		}
	}
}

// scanOnce re-derives every instance's health and logs exactly one event per
// transition. Unchanged states are never logged.
func (r *Registry) scanOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for name, g := range r.groups {
		for _, inst := range g.Instances {
			healthy := inst.HealthyAt(now)
			if healthy == inst.LastHealthy {
				continue
			}
			inst.LastHealthy = healthy
			if healthy {
				log.Info().Str("service", name).Str("hostname", inst.Hostname).Msg("instance became healthy")
			} else {
				log.Warn().Str("service", name).Str("hostname", inst.Hostname).Dur("ttl", inst.TTL).Time("last_ping", inst.LastPing).Msg("instance became unhealthy")
			}
		}
	}
}
