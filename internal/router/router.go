package router

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wonny/hedgefund/internal/cache"
	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/internal/quality"
	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/metrics"
)

// SourceCache tags responses served from the cache
const SourceCache = "cache"

// SnapshotSink mirrors served batches to disk. Implementations must not block on failure.
type SnapshotSink interface {
	ExportPrices(ctx context.Context, ticker, date string, prices []contracts.Price, source string)
	ExportFinancials(ctx context.Context, ticker, date string, metrics []contracts.FinancialMetrics, lineItems []contracts.LineItem, source string)
}

// Persister stores fresh upstream batches for later offline serving
type Persister interface {
	Name() string
	SavePrices(ctx context.Context, ticker string, prices []contracts.Price) error
	SaveFinancialMetrics(ctx context.Context, ticker string, metrics []contracts.FinancialMetrics) error
	SaveLineItems(ctx context.Context, ticker string, items []contracts.LineItem) error
	SaveCompanyNews(ctx context.Context, ticker string, news []contracts.CompanyNews) error
}

// Router fans a data request across providers in priority order
// ⭐ SSOT: analysts and the façade read market data only through the router
type Router struct {
	providers []provider.Provider
	cache     *cache.Tiered
	health    *HealthMonitor
	pipeline  *quality.Pipeline
	policy    provider.RetryPolicy
	snapshots SnapshotSink
	persister Persister
	metrics   *metrics.Recorder
	logger    *logger.Logger

	group singleflight.Group
}

// Option configures a Router
type Option func(*Router)

// WithSnapshots mirrors served batches through sink
func WithSnapshots(sink SnapshotSink) Option {
	return func(r *Router) { r.snapshots = sink }
}

// WithPersister writes fresh batches to p
func WithPersister(p Persister) Option {
	return func(r *Router) { r.persister = p }
}

// WithMetrics records provider calls and cache results
func WithMetrics(rec *metrics.Recorder) Option {
	return func(r *Router) { r.metrics = rec }
}

// WithRetryPolicy overrides the per-provider retry policy
func WithRetryPolicy(p provider.RetryPolicy) Option {
	return func(r *Router) { r.policy = p }
}

// WithHealthInterval sets how long a probe result is trusted
func WithHealthInterval(d time.Duration) Option {
	return func(r *Router) { r.health = NewHealthMonitor(d, r.logger) }
}

// New creates a router over providers, sorted by priority
func New(providers []provider.Provider, c *cache.Tiered, log *logger.Logger, opts ...Option) *Router {
	sorted := make([]provider.Provider, len(providers))
	copy(sorted, providers)
	sort.Stable(provider.ByPriority(sorted))

	r := &Router{
		providers: sorted,
		cache:     c,
		policy:    provider.DefaultRetryPolicy(),
		logger:    log.Component("router"),
	}
	r.health = NewHealthMonitor(5*time.Minute, r.logger)
	for _, opt := range opts {
		opt(r)
	}
	r.pipeline = quality.NewPipeline(r.logger, r.metrics)
	return r
}

// Providers returns the providers in priority order
func (r *Router) Providers() []provider.Provider {
	return r.providers
}

// GetPrices returns validated daily bars for [startDate, endDate], oldest first
func (r *Router) GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error) {
	return fetch(ctx, r, request[[]contracts.Price]{
		dataType: provider.DataPrices,
		op:       provider.OpPrices,
		ticker:   ticker,
		key:      cache.Key(provider.DataPrices, ticker, startDate, endDate),
		call: func(ctx context.Context, p provider.Provider) (provider.Response[[]contracts.Price], error) {
			return p.GetPrices(ctx, ticker, startDate, endDate)
		},
		process: func(data []contracts.Price) []contracts.Price {
			out, _ := r.pipeline.Prices(ticker, data)
			return out
		},
		after: func(ctx context.Context, data []contracts.Price, source string) {
			if r.snapshots != nil {
				r.snapshots.ExportPrices(ctx, ticker, endDate, data, source)
			}
			r.persist(ctx, source, func(p Persister) error { return p.SavePrices(ctx, ticker, data) })
		},
	})
}

// GetFinancialMetrics returns validated ratio rows on or before endDate, newest first
func (r *Router) GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.FinancialMetrics], error) {
	return fetch(ctx, r, request[[]contracts.FinancialMetrics]{
		dataType: provider.DataMetrics,
		op:       provider.OpMetrics,
		ticker:   ticker,
		key:      cache.Key(provider.DataMetrics, ticker, endDate, string(period), itoa(limit)),
		call: func(ctx context.Context, p provider.Provider) (provider.Response[[]contracts.FinancialMetrics], error) {
			return p.GetFinancialMetrics(ctx, ticker, endDate, period, limit)
		},
		process: func(data []contracts.FinancialMetrics) []contracts.FinancialMetrics {
			out, _ := r.pipeline.Metrics(ticker, data)
			if limit > 0 && len(out) > limit {
				out = out[:limit]
			}
			return out
		},
		after: func(ctx context.Context, data []contracts.FinancialMetrics, source string) {
			if r.snapshots != nil {
				r.snapshots.ExportFinancials(ctx, ticker, endDate, data, nil, source)
			}
			r.persist(ctx, source, func(p Persister) error { return p.SaveFinancialMetrics(ctx, ticker, data) })
		},
	})
}

// GetLineItems returns line item rows on or before endDate, newest first
func (r *Router) GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.LineItem], error) {
	return fetch(ctx, r, request[[]contracts.LineItem]{
		dataType: provider.DataLineItems,
		op:       provider.OpLineItems,
		ticker:   ticker,
		key:      cache.Key(provider.DataLineItems, ticker, endDate, string(period), itoa(limit), joinSorted(items)),
		call: func(ctx context.Context, p provider.Provider) (provider.Response[[]contracts.LineItem], error) {
			return p.GetLineItems(ctx, ticker, items, endDate, period, limit)
		},
		process: func(data []contracts.LineItem) []contracts.LineItem {
			out, _ := r.pipeline.LineItems(ticker, data)
			if limit > 0 && len(out) > limit {
				out = out[:limit]
			}
			return out
		},
		after: func(ctx context.Context, data []contracts.LineItem, source string) {
			if r.snapshots != nil {
				r.snapshots.ExportFinancials(ctx, ticker, endDate, nil, data, source)
			}
			r.persist(ctx, source, func(p Persister) error { return p.SaveLineItems(ctx, ticker, data) })
		},
	})
}

// GetCompanyNews returns headlines in [startDate, endDate], newest first
func (r *Router) GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (provider.Response[[]contracts.CompanyNews], error) {
	return fetch(ctx, r, request[[]contracts.CompanyNews]{
		dataType: provider.DataNews,
		op:       provider.OpNews,
		ticker:   ticker,
		key:      cache.Key(provider.DataNews, ticker, startDate, endDate, itoa(limit)),
		call: func(ctx context.Context, p provider.Provider) (provider.Response[[]contracts.CompanyNews], error) {
			return p.GetCompanyNews(ctx, ticker, startDate, endDate, limit)
		},
		process: func(data []contracts.CompanyNews) []contracts.CompanyNews {
			out, _ := r.pipeline.News(ticker, data)
			if limit > 0 && len(out) > limit {
				out = out[:limit]
			}
			return out
		},
		after: func(ctx context.Context, data []contracts.CompanyNews, source string) {
			r.persist(ctx, source, func(p Persister) error { return p.SaveCompanyNews(ctx, ticker, data) })
		},
	})
}

// LatestClose returns the last close on or before endDate within a 30-day lookback
func (r *Router) LatestClose(ctx context.Context, ticker, endDate string) (float64, bool, error) {
	end, err := contracts.ParseDate(endDate)
	if err != nil {
		return 0, false, err
	}
	start := end.AddDate(0, 0, -30).Format(contracts.DateLayout)

	resp, err := r.GetPrices(ctx, ticker, start, endDate)
	if err != nil {
		return 0, false, err
	}
	if len(resp.Data) == 0 {
		return 0, false, nil
	}
	return resp.Data[len(resp.Data)-1].Close, true, nil
}

func (r *Router) persist(ctx context.Context, source string, save func(Persister) error) {
	if r.persister == nil || source == r.persister.Name() {
		return
	}
	if err := save(r.persister); err != nil {
		r.logger.WithError(err).WithField("source", source).Warn("Persisting batch failed")
	}
}
