package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// admit trims expired members, then either records the call or reports
// how long until the oldest member leaves the window.
// Returns {allowed, remaining, retry_after_ms}.
var admit = redis.NewScript(`
local key, now, window, limit, member = KEYS[1], tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local used = redis.call('ZCARD', key)
if used < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - used - 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = window
if oldest[2] then wait = tonumber(oldest[2]) + window - now end
return {0, 0, wait}
`)

// RateLimitConfig is one sliding window budget
type RateLimitConfig struct {
	Key    string // provider name, e.g. "eastmoney"
	Limit  int
	Window time.Duration
}

// PerMinute builds a one-minute window for a provider
func PerMinute(key string, rpm int) RateLimitConfig {
	return RateLimitConfig{Key: key, Limit: rpm, Window: time.Minute}
}

// Admission is the outcome of one Allow call
type Admission struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter shares provider budgets across processes with a sliding window
// ⭐ SSOT: cross-process rate limits live here
type RateLimiter struct {
	client *Client
	prefix string
	seq    atomic.Uint64
}

// NewRateLimiter creates a limiter; keys are namespaced under prefix
func NewRateLimiter(client *Client, prefix string) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix}
}

func (r *RateLimiter) key(cfg RateLimitConfig) string {
	return fmt.Sprintf("%s:ratelimit:%s", r.prefix, cfg.Key)
}

// Allow records one call if the window has room. Every call is admitted
// when Redis is disabled or the limit is not positive.
func (r *RateLimiter) Allow(ctx context.Context, cfg RateLimitConfig) (Admission, error) {
	if !r.client.Enabled() || cfg.Limit <= 0 {
		return Admission{Allowed: true, Remaining: cfg.Limit}, nil
	}

	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d-%d", now, r.seq.Add(1))
	res, err := admit.Run(ctx, r.client.Redis(), []string{r.key(cfg)},
		now, cfg.Window.Milliseconds(), cfg.Limit, member).Int64Slice()
	if err != nil {
		return Admission{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return Admission{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return Admission{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Wait blocks until the call is admitted or ctx ends
func (r *RateLimiter) Wait(ctx context.Context, cfg RateLimitConfig) error {
	for {
		a, err := r.Allow(ctx, cfg)
		if err != nil {
			return err
		}
		if a.Allowed {
			return nil
		}

		delay := max(a.RetryAfter, 10*time.Millisecond)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
