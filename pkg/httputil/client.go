// Package httputil is the outbound HTTP layer of the scraping adapters.
package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/redis"
)

const maxErrorBody = 200

// Waiter blocks until a request may be sent. *rate.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Client issues GET requests with shared headers, throttling and bounded
// retry of transient failures.
// ⭐ SSOT: every outbound request of the scraping adapters goes through here
type Client struct {
	http    *http.Client
	logger  *logger.Logger
	retry   RetryConfig
	headers http.Header
	waiters []Waiter
}

// RetryConfig bounds the in-client retry. Only network errors and 5xx are
// retried here; 429 goes back to the caller, whose backoff knows the quota.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Enabled      bool
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Retryable reports whether a later attempt could succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.RateLimited()
}

func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// New returns a client with a 30s timeout and two retries.
// ⭐ SSOT: http.Client instances are created here only
func New(log *logger.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  log.Component("http"),
		headers: make(http.Header),
		retry: RetryConfig{
			MaxRetries:   2,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Enabled:      true,
		},
	}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	c.http.Timeout = d
	return c
}

func (c *Client) WithRetry(maxRetries int, initialDelay time.Duration) *Client {
	c.retry.MaxRetries = maxRetries
	c.retry.InitialDelay = initialDelay
	c.retry.Enabled = true
	return c
}

func (c *Client) DisableRetry() *Client {
	c.retry.Enabled = false
	return c
}

// WithHeader sets a header sent on every request
func (c *Client) WithHeader(key, value string) *Client {
	c.headers.Set(key, value)
	return c
}

// Throttle adds w to the waiters consulted before each request, in order.
func (c *Client) Throttle(w Waiter) *Client {
	c.waiters = append(c.waiters, w)
	return c
}

// WithRateLimiter throttles on the Redis window named by cfg, shared by
// every process using the same key.
func (c *Client) WithRateLimiter(limiter *redis.RateLimiter, cfg redis.RateLimitConfig) *Client {
	return c.Throttle(windowWaiter{limiter: limiter, cfg: cfg})
}

type windowWaiter struct {
	limiter *redis.RateLimiter
	cfg     redis.RateLimitConfig
}

func (w windowWaiter) Wait(ctx context.Context) error {
	return w.limiter.Wait(ctx, w.cfg)
}

// GetBody returns the body of a 2xx response. Anything else becomes a
// *StatusError carrying the start of the body.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url, Body: msg}
	}
	return body, nil
}

// GetJSON decodes a 2xx JSON body into dest
func (c *Client) GetJSON(ctx context.Context, url string, dest interface{}) error {
	body, err := c.GetBody(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode JSON from %s: %w", url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	for _, w := range c.waiters {
		if err := w.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	attempts := 1
	if c.retry.Enabled {
		attempts += c.retry.MaxRetries
	}
	delay := c.retry.InitialDelay
	log := c.logger.WithField("url", url)
	start := time.Now()

	for attempt := 1; ; attempt++ {
		resp, err := c.once(ctx, url)
		transient := err != nil || resp.StatusCode >= 500
		if !transient || attempt == attempts || ctx.Err() != nil {
			if err != nil {
				log.WithError(err).WithField("attempts", attempt).Warn("HTTP request failed")
				return nil, err
			}
			log.WithFields(map[string]interface{}{
				"status":   resp.StatusCode,
				"duration": time.Since(start),
			}).Debug("HTTP request completed")
			return resp, nil
		}
		if resp != nil {
			resp.Body.Close()
		}

		log.WithFields(map[string]interface{}{"attempt": attempt, "delay": delay}).Warn("Retrying HTTP request")
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > c.retry.MaxDelay {
			delay = c.retry.MaxDelay
		}
	}
}

func (c *Client) once(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = c.headers.Clone()
	return c.http.Do(req)
}
