package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/hedgefund/internal/cache"
	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
)

// request describes one routed read
type request[T any] struct {
	dataType provider.DataType
	op       string
	ticker   string
	key      string
	call     func(ctx context.Context, p provider.Provider) (provider.Response[T], error)
	process  func(T) T
	after    func(ctx context.Context, data T, source string)
}

// fetch serves from cache, or coalesces concurrent misses on the same key into one upstream walk
func fetch[T any](ctx context.Context, r *Router, req request[T]) (provider.Response[T], error) {
	started := time.Now()
	if data, ok := cache.GetTyped[T](ctx, r.cache, req.key); ok {
		r.metrics.RecordCache(string(req.dataType), true)
		return provider.NewResponse(data, SourceCache, started), nil
	}
	r.metrics.RecordCache(string(req.dataType), false)

	for {
		ch := r.group.DoChan(req.key, func() (interface{}, error) {
			return walk(ctx, r, req)
		})

		select {
		case <-ctx.Done():
			return provider.Response[T]{}, ctx.Err()
		case res := <-ch:
			// the leader's ctx ended but ours did not: lead a fresh walk
			if res.Err != nil && isContextErr(res.Err) && ctx.Err() == nil {
				continue
			}
			if res.Err != nil {
				return provider.Response[T]{}, res.Err
			}
			return res.Val.(provider.Response[T]), nil
		}
	}
}

// walk tries providers in priority order until one returns usable data
func walk[T any](ctx context.Context, r *Router, req request[T]) (provider.Response[T], error) {
	var out provider.Response[T]

	candidates := r.health.Available(ctx, r.providers, false)
	if len(candidates) == 0 {
		r.logger.WithField("key", req.key).Warn("All providers unhealthy, re-checking")
		candidates = r.health.Available(ctx, r.providers, true)
	}
	if len(candidates) == 0 {
		return out, fmt.Errorf("%w: all providers unhealthy for %s", contracts.ErrNoProviderAvailable, req.key)
	}

	var (
		lastErr error
		empty   *provider.Response[T]
	)
	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		callStarted := time.Now()
		resp, err := provider.Retry(ctx, r.policy, r.logger.WithField("provider", p.Name()), func(ctx context.Context) (provider.Response[T], error) {
			return req.call(ctx, p)
		})
		if err != nil {
			if isContextErr(err) {
				return out, err
			}
			lastErr = err
			r.metrics.RecordProviderCall(p.Name(), req.op, outcomeOf(err), time.Since(callStarted))
			logFields := map[string]interface{}{
				"provider": p.Name(),
				"op":       req.op,
				"ticker":   req.ticker,
			}
			if errors.Is(err, contracts.ErrUnsupported) {
				r.logger.WithFields(logFields).Debug("Provider does not serve request")
			} else {
				r.logger.WithError(err).WithFields(logFields).Warn("Provider call failed, trying next")
			}
			continue
		}

		data := req.process(resp.Data)
		if isEmpty(data) {
			r.metrics.RecordProviderCall(p.Name(), req.op, "empty", time.Since(callStarted))
			if empty == nil {
				e := provider.Response[T]{Data: data, Source: p.Name(), Latency: time.Since(callStarted)}
				empty = &e
			}
			continue
		}
		r.metrics.RecordProviderCall(p.Name(), req.op, "ok", time.Since(callStarted))

		if err := cache.SetTyped(ctx, r.cache, req.key, data, cache.TTLFor(req.dataType)); err != nil {
			r.logger.WithError(err).WithField("key", req.key).Warn("Cache write failed")
		}
		req.after(ctx, data, p.Name())

		return provider.Response[T]{Data: data, Source: p.Name(), Latency: resp.Latency}, nil
	}

	// every reachable source answered, none had rows
	if empty != nil {
		return *empty, nil
	}
	return out, fmt.Errorf("%w: %s: %w", contracts.ErrNoProviderAvailable, req.key, lastErr)
}

func isEmpty(v any) bool {
	switch d := v.(type) {
	case []contracts.Price:
		return len(d) == 0
	case []contracts.FinancialMetrics:
		return len(d) == 0
	case []contracts.LineItem:
		return len(d) == 0
	case []contracts.CompanyNews:
		return len(d) == 0
	}
	return v == nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, contracts.ErrRateLimit):
		return "rate_limited"
	case errors.Is(err, contracts.ErrTransientAPI):
		return "transient"
	case errors.Is(err, contracts.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, contracts.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func joinSorted(items []string) string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
