package router

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/logger"
)

// healthProbeTimeout bounds one provider probe
const healthProbeTimeout = 10 * time.Second

type healthEntry struct {
	healthy   bool
	checkedAt time.Time
}

// HealthMonitor caches provider probes for one interval.
// A provider is never removed, only skipped while its cached probe says unhealthy.
type HealthMonitor struct {
	interval time.Duration
	logger   *logger.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]healthEntry
}

// NewHealthMonitor creates a monitor that re-probes after interval
func NewHealthMonitor(interval time.Duration, log *logger.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &HealthMonitor{
		interval: interval,
		logger:   log,
		now:      time.Now,
		entries:  make(map[string]healthEntry),
	}
}

// Available returns the healthy providers in their given order.
// Stale entries are probed concurrently; force re-probes all of them.
func (h *HealthMonitor) Available(ctx context.Context, providers []provider.Provider, force bool) []provider.Provider {
	var stale []provider.Provider
	h.mu.RLock()
	for _, p := range providers {
		e, ok := h.entries[p.Name()]
		if force || !ok || h.now().Sub(e.checkedAt) >= h.interval {
			stale = append(stale, p)
		}
	}
	h.mu.RUnlock()

	if len(stale) > 0 {
		h.probe(ctx, stale)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]provider.Provider, 0, len(providers))
	for _, p := range providers {
		if h.entries[p.Name()].healthy {
			out = append(out, p)
		}
	}
	return out
}

func (h *HealthMonitor) probe(ctx context.Context, providers []provider.Provider) {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, healthProbeTimeout)
			defer cancel()

			healthy := p.HealthCheck(pctx)
			if ctx.Err() != nil {
				// caller went away; keep the previous entry
				return nil
			}
			h.record(p.Name(), healthy)
			if !healthy {
				h.logger.WithField("provider", p.Name()).Warn("Provider health check failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *HealthMonitor) record(name string, healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[name] = healthEntry{healthy: healthy, checkedAt: h.now()}
}

// Status returns the cached probe for name
func (h *HealthMonitor) Status(name string) (healthy bool, checkedAt time.Time, known bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[name]
	return e.healthy, e.checkedAt, ok
}

// Refresh re-probes every provider regardless of age
func (h *HealthMonitor) Refresh(ctx context.Context, providers []provider.Provider) {
	h.probe(ctx, providers)
}
