// Package hedgefund is the entry point of an analysis run. It wires the
// data layer, the analysts, the risk gate and the portfolio manager.
package hedgefund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/hedgefund/internal/analysts"
	"github.com/wonny/hedgefund/internal/cache"
	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/external/eastmoney"
	"github.com/wonny/hedgefund/internal/external/mock"
	"github.com/wonny/hedgefund/internal/external/sina"
	"github.com/wonny/hedgefund/internal/external/tushare"
	"github.com/wonny/hedgefund/internal/external/warehouse"
	"github.com/wonny/hedgefund/internal/external/yahoo"
	"github.com/wonny/hedgefund/internal/graph"
	"github.com/wonny/hedgefund/internal/llm"
	"github.com/wonny/hedgefund/internal/portfolio"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/internal/risk"
	"github.com/wonny/hedgefund/internal/router"
	"github.com/wonny/hedgefund/internal/snapshot"
	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/database"
	"github.com/wonny/hedgefund/pkg/httputil"
	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/metrics"
	"github.com/wonny/hedgefund/pkg/redis"
)

// Services holds everything a run needs. One instance serves many runs.
// ⭐ SSOT: providers, cache and model are wired only here
type Services struct {
	Router    *router.Router
	Registry  *analysts.Registry
	Gate      *risk.Gate
	Manager   *portfolio.Manager
	LM        llm.LanguageModel
	Snapshots *snapshot.Writer
	Metrics   *metrics.Recorder

	analystsHash string
	timeout      time.Duration
	logger       *logger.Logger
	closers      []func()
}

type options struct {
	providers []provider.Provider
	cache     *cache.Tiered
	lm        llm.LanguageModel
	policy    *provider.RetryPolicy
	metrics   *metrics.Recorder
}

// ServiceOption overrides part of the wiring
type ServiceOption func(*options)

// WithProviders replaces the configured providers
func WithProviders(ps ...provider.Provider) ServiceOption {
	return func(o *options) { o.providers = ps }
}

// WithCache uses c instead of the process cache
func WithCache(c *cache.Tiered) ServiceOption {
	return func(o *options) { o.cache = c }
}

// WithLanguageModel replaces the configured chat model
func WithLanguageModel(lm llm.LanguageModel) ServiceOption {
	return func(o *options) { o.lm = lm }
}

// WithRetryPolicy overrides the router's retry policy
func WithRetryPolicy(p provider.RetryPolicy) ServiceOption {
	return func(o *options) { o.policy = &p }
}

// WithMetrics uses r instead of a fresh recorder
func WithMetrics(r *metrics.Recorder) ServiceOption {
	return func(o *options) { o.metrics = r }
}

// NewServices wires providers, cache, snapshots, model and decision nodes from cfg
func NewServices(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...ServiceOption) (*Services, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Services{timeout: cfg.AnalystTimeout, logger: log.Component("hedgefund")}

	acfg, err := analysts.LoadConfig(cfg.AnalystsConfig)
	if err != nil {
		return nil, fmt.Errorf("load analysts config: %w", err)
	}
	s.analystsHash, _ = analysts.Hash(acfg)

	s.Metrics = o.metrics
	if s.Metrics == nil && cfg.MetricsEnabled {
		s.Metrics = metrics.New()
	}

	s.LM = o.lm
	if s.LM == nil {
		chat, err := llm.NewChatModel(ctx, cfg.LLM, cfg.LLM.Model, log)
		if err != nil {
			log.WithError(err).Warn("Chat model unavailable, decisions use deterministic rules")
		} else if chat != nil {
			s.LM = chat
		}
	}

	c := o.cache
	if c == nil {
		if c, err = cache.Init(cfg, log); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = cache.Close() })
	}

	routerOpts := []router.Option{
		router.WithMetrics(s.Metrics),
		router.WithHealthInterval(cfg.Router.HealthCheckInterval),
	}
	if o.policy != nil {
		routerOpts = append(routerOpts, router.WithRetryPolicy(*o.policy))
	}
	if w := snapshot.Init(cfg, log); w != nil {
		s.Snapshots = w
		routerOpts = append(routerOpts, router.WithSnapshots(w))
		s.closers = append(s.closers, snapshot.Close)
	}

	providers := o.providers
	if providers == nil {
		var wh *warehouse.Warehouse
		providers, wh = s.buildProviders(ctx, cfg, log)
		if wh != nil {
			routerOpts = append(routerOpts, router.WithPersister(wh))
		}
	}
	s.Router = router.New(providers, c, log, routerOpts...)

	var analystOpts []analysts.Option
	managerOpts := []portfolio.Option{portfolio.WithMetrics(s.Metrics)}
	if s.LM != nil {
		analystOpts = append(analystOpts, analysts.WithLanguageModel(s.LM))
		managerOpts = append(managerOpts, portfolio.WithLanguageModel(s.LM))
	}
	s.Registry = analysts.NewDefaultRegistry(acfg, log, analystOpts...)
	s.Gate = risk.NewGate(risk.Config{}, log)
	s.Manager = portfolio.NewManager(log, managerOpts...)

	names := make([]string, 0, len(providers))
	for _, p := range s.Router.Providers() {
		names = append(names, p.Name())
	}
	s.logger.WithFields(map[string]interface{}{
		"providers": names,
		"analysts":  s.Registry.IDs(),
		"model":     s.LM != nil,
		"snapshots": s.Snapshots != nil,
	}).Info("Services ready")
	return s, nil
}

func (s *Services) buildProviders(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]provider.Provider, *warehouse.Warehouse) {
	emHTTP, sinaHTTP := httputil.New(log), httputil.New(log)
	// Quotas are shared across processes when Redis is reachable
	if rc := cache.Redis(); rc != nil {
		limiter := redis.NewRateLimiter(rc, "hedgefund")
		emHTTP.WithRateLimiter(limiter, redis.PerMinute(eastmoney.Name, cfg.Eastmoney.RPM))
		sinaHTTP.WithRateLimiter(limiter, redis.PerMinute(sina.Name, cfg.Sina.RPM))
	}

	providers := []provider.Provider{
		eastmoney.New(cfg.Eastmoney, emHTTP, log),
		tushare.New(cfg.Tushare, log),
		sina.New(cfg.Sina, sinaHTTP, log),
	}
	if cfg.Yahoo.Enabled {
		providers = append(providers, yahoo.New(provider.NewPool(cfg.Router.Workers), log))
	}

	var wh *warehouse.Warehouse
	db, err := database.New(ctx, cfg.Database)
	switch {
	case errors.Is(err, database.ErrNotConfigured):
	case err != nil:
		log.WithError(err).Warn("Warehouse unavailable")
	default:
		wh = warehouse.New(db.Pool, log)
		providers = append(providers, wh)
		s.closers = append(s.closers, db.Close)
	}

	return append(providers, mock.New()), wh
}

// Close flushes snapshots and releases connections
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run executes one analysis run. sink may be nil.
func (s *Services) Run(ctx context.Context, req Request, sink graph.ProgressSink) (*Result, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	selected, err := s.Registry.Select(req.SelectedAnalysts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contracts.ErrPrecondition, err)
	}

	started := time.Now()
	meta := contracts.RunMetadata{
		RunID:         uuid.NewString(),
		ModelName:     req.ModelName,
		ShowReasoning: req.ShowReasoning,
		StartedAt:     started,
	}
	state := contracts.NewRunState(req.Tickers, req.StartDate, req.EndDate, req.Portfolio, meta)

	log := s.logger.WithFields(map[string]interface{}{
		"run_id":        meta.RunID,
		"analysts_hash": s.analystsHash,
	})
	log.WithFields(map[string]interface{}{
		"tickers":  req.Tickers,
		"start":    req.StartDate,
		"end":      req.EndDate,
		"analysts": len(selected),
	}).Info("Run started")

	orchestratorOpts := []graph.Option{
		graph.WithAnalystTimeout(s.timeout),
		graph.WithMetrics(s.Metrics),
	}
	if sink != nil {
		orchestratorOpts = append(orchestratorOpts, graph.WithProgressSink(sink))
	}
	orch := graph.New(s.Gate, s.Manager, s.Router, s.logger, orchestratorOpts...)
	if err := orch.Run(ctx, state, selected); err != nil {
		log.WithError(err).Warn("Run failed")
		return nil, err
	}

	result := &Result{
		RunID:           meta.RunID,
		Decisions:       state.Decisions(),
		AnalystSignals:  state.Signals(),
		RiskAssessments: state.RiskAssessments(),
		Portfolio:       req.Portfolio.Clone(),
		StartedAt:       started,
	}
	if req.Apply {
		ledger := portfolio.NewLedger(req.Portfolio, s.logger)
		result.Trades = ledger.ApplyAll(result.Decisions, state.CurrentPrices())
		result.Portfolio = ledger.Portfolio()
	}
	result.Duration = time.Since(started)

	log.WithFields(map[string]interface{}{
		"decisions": len(result.Decisions),
		"trades":    len(result.Trades),
		"duration":  result.Duration.Seconds(),
	}).Info("Run completed")
	return result, nil
}
