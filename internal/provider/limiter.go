package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/hedgefund/internal/contracts"
)

// Limiter enforces a per-minute token bucket and an optional daily quota
// for one provider, and reports the state as RateLimitInfo.
type Limiter struct {
	name string
	rpm  int
	rpd  int
	rl   *rate.Limiter

	mu       sync.Mutex
	day      string
	dayCount int
	backoff  time.Duration
	now      func() time.Time
}

// NewLimiter builds a limiter. rpm <= 0 disables per-minute limiting, rpd <= 0 the daily quota.
func NewLimiter(name string, rpm, rpd int) *Limiter {
	l := &Limiter{name: name, rpm: rpm, rpd: rpd, now: time.Now}
	if rpm > 0 {
		burst := rpm / 10
		if burst < 1 {
			burst = 1
		}
		l.rl = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}
	return l
}

// Wait blocks for a token. It fails fast with ErrRateLimit once the daily quota is spent.
func (l *Limiter) Wait(ctx context.Context, op string) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	today := l.now().Format(contracts.DateLayout)
	if today != l.day {
		l.day = today
		l.dayCount = 0
	}
	if l.rpd > 0 && l.dayCount >= l.rpd {
		l.mu.Unlock()
		return contracts.NewProviderError(l.name, op, contracts.ErrRateLimit, fmt.Errorf("daily quota of %d exhausted", l.rpd))
	}
	l.dayCount++
	l.mu.Unlock()

	if l.rl == nil {
		return nil
	}
	if err := l.rl.Wait(ctx); err != nil {
		return err
	}
	return nil
}

// Penalize records an upstream back-off hint
func (l *Limiter) Penalize(d time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.backoff = d
	l.mu.Unlock()
}

// Info reports the current quota state
func (l *Limiter) Info() RateLimitInfo {
	if l == nil {
		return RateLimitInfo{Remaining: -1}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := -1
	if l.rpd > 0 {
		remaining = l.rpd - l.dayCount
		if remaining < 0 {
			remaining = 0
		}
	}
	return RateLimitInfo{
		RPM:       l.rpm,
		RPD:       l.rpd,
		Backoff:   l.backoff,
		Remaining: remaining,
	}
}
