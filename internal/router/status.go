package router

import (
	"context"
	"time"

	"github.com/wonny/hedgefund/internal/cache"
	"github.com/wonny/hedgefund/internal/provider"
)

// ProviderStatus is one row of the provider table shown by the CLI and API
type ProviderStatus struct {
	Name      string                 `json:"name"`
	Priority  int                    `json:"priority"`
	Healthy   bool                   `json:"healthy"`
	Checked   bool                   `json:"checked"`
	CheckedAt time.Time              `json:"checked_at,omitempty"`
	RateLimit provider.RateLimitInfo `json:"rate_limit"`
}

// ProviderStatus reports the cached health of every provider; refresh forces new probes first
func (r *Router) ProviderStatus(ctx context.Context, refresh bool) []ProviderStatus {
	if refresh {
		r.health.Refresh(ctx, r.providers)
	}

	out := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		healthy, checkedAt, known := r.health.Status(p.Name())
		out = append(out, ProviderStatus{
			Name:      p.Name(),
			Priority:  p.Priority(),
			Healthy:   healthy,
			Checked:   known,
			CheckedAt: checkedAt,
			RateLimit: p.RateLimitInfo(),
		})
	}
	return out
}

// CacheStats exposes the cache counters
func (r *Router) CacheStats() cache.Stats {
	return r.cache.Stats()
}
