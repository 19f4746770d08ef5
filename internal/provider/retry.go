package provider

import (
	"context"
	"errors"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// RetryPolicy governs retries of a single provider call.
// Rate-limit and transient errors are retried; everything else returns at once.
type RetryPolicy struct {
	MaxRetries int           `default:"3"`
	Base       time.Duration `default:"1s"`
	MaxBackoff time.Duration `default:"60s"`

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is 2^attempt seconds, capped at 60s, max 3 retries
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Base: time.Second, MaxBackoff: 60 * time.Second}
}

// Backoff returns the delay before retry number attempt (0-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if d <= 0 || d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Retry runs op until it succeeds, returns a non-retryable error,
// exhausts the policy, or ctx is done.
func Retry[T any](ctx context.Context, policy RetryPolicy, log *logger.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	sleep := policy.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if !contracts.IsRetryable(err) || attempt == policy.MaxRetries {
			break
		}

		delay := policy.Backoff(attempt)
		if log != nil {
			log.WithFields(map[string]interface{}{
				"attempt":    attempt + 1,
				"delay":      delay.String(),
				"rate_limit": errors.Is(err, contracts.ErrRateLimit),
			}).WithError(err).Warn("Retrying provider call")
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
