package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/graph"
	"github.com/wonny/hedgefund/internal/hedgefund"
	"github.com/wonny/hedgefund/internal/portfolio"
	"github.com/wonny/hedgefund/internal/risk"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Runner executes one analysis run
type Runner interface {
	Run(ctx context.Context, req hedgefund.Request, sink graph.ProgressSink) (*hedgefund.Result, error)
}

// Engine replays the hedge fund day by day over a historical window
// ⭐ SSOT: backtests run only here
type Engine struct {
	runner Runner
	prices risk.PriceSource
	logger *logger.Logger
}

// Config holds backtest configuration
type Config struct {
	Tickers           []string
	StartDate         time.Time
	EndDate           time.Time
	InitialCash       float64
	MarginRequirement float64
	SelectedAnalysts  []string
	RebalanceDays     int // trading days between runs; 1 runs every day
	LookbackDays      int // calendar days of history each run sees
}

// Result holds backtest results
type Result struct {
	Config         Config        `json:"-"`
	Duration       time.Duration `json:"duration_ns"`
	TradingDays    int           `json:"trading_days"`
	RebalanceCount int           `json:"rebalance_count"`
	FailedRuns     int           `json:"failed_runs"`

	Metrics

	EquityCurve []EquityPoint       `json:"equity_curve"`
	Trades      []portfolio.Trade   `json:"trades"`
	Portfolio   contracts.Portfolio `json:"portfolio"`
}

// EquityPoint is the marked-to-market equity at one trading day close
type EquityPoint struct {
	Date          string  `json:"date"`
	Equity        float64 `json:"equity"`
	Return        float64 `json:"return"`
	LongExposure  float64 `json:"long_exposure"`
	ShortExposure float64 `json:"short_exposure"`
}

// NewEngine creates a backtest engine
func NewEngine(runner Runner, prices risk.PriceSource, log *logger.Logger) *Engine {
	return &Engine{
		runner: runner,
		prices: prices,
		logger: log.Component("backtest"),
	}
}

func (c *Config) normalize() error {
	if len(c.Tickers) == 0 {
		return fmt.Errorf("%w: no tickers", contracts.ErrPrecondition)
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("%w: end date %s before start date %s", contracts.ErrPrecondition,
			c.EndDate.Format(contracts.DateLayout), c.StartDate.Format(contracts.DateLayout))
	}
	if c.InitialCash <= 0 {
		return fmt.Errorf("%w: initial cash must be positive", contracts.ErrPrecondition)
	}
	if c.RebalanceDays <= 0 {
		c.RebalanceDays = 1
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 90
	}
	return nil
}

// Run executes a backtest. Days without any price are holidays and are skipped.
// A failed run keeps the portfolio unchanged for that day; cancellation aborts.
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"tickers":        cfg.Tickers,
		"start_date":     cfg.StartDate.Format(contracts.DateLayout),
		"end_date":       cfg.EndDate.Format(contracts.DateLayout),
		"initial_cash":   cfg.InitialCash,
		"rebalance_days": cfg.RebalanceDays,
	}).Info("Starting backtest")

	startTime := time.Now()
	history, err := loadHistory(ctx, e.prices, cfg.Tickers, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, err
	}

	ledger := portfolio.NewLedger(contracts.NewPortfolio(cfg.InitialCash, cfg.MarginRequirement, cfg.Tickers), e.logger)
	result := &Result{Config: cfg, EquityCurve: make([]EquityPoint, 0)}

	daysSinceRebalance := cfg.RebalanceDays
	for day := cfg.StartDate; !day.After(cfg.EndDate); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		date := day.Format(contracts.DateLayout)
		closes, ok := history.closesOn(date)
		if !ok {
			continue
		}
		result.TradingDays++

		if daysSinceRebalance >= cfg.RebalanceDays {
			daysSinceRebalance = 0
			req := hedgefund.Request{
				Tickers:          cfg.Tickers,
				StartDate:        day.AddDate(0, 0, -cfg.LookbackDays).Format(contracts.DateLayout),
				EndDate:          date,
				Portfolio:        ledger.Portfolio(),
				SelectedAnalysts: cfg.SelectedAnalysts,
			}
			res, err := e.runner.Run(ctx, req, nil)
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil, err
			case err != nil:
				result.FailedRuns++
				e.logger.WithFields(map[string]interface{}{
					"date":  date,
					"error": err.Error(),
				}).Warn("Backtest run failed, holding positions")
			default:
				ledger.ApplyAll(res.Decisions, closes)
				result.RebalanceCount++
			}
		}
		daysSinceRebalance++

		p := ledger.Portfolio()
		equity := p.MarkToMarket(closes)
		long, short := exposure(p, closes)
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Date:          date,
			Equity:        equity,
			Return:        equity/cfg.InitialCash - 1,
			LongExposure:  long,
			ShortExposure: short,
		})
	}

	result.Duration = time.Since(startTime)
	result.Trades = ledger.Trades()
	result.Portfolio = ledger.Portfolio()
	result.Metrics = computeMetrics(cfg.InitialCash, result.EquityCurve, result.Trades)

	e.logger.WithFields(map[string]interface{}{
		"duration":     result.Duration.String(),
		"trading_days": result.TradingDays,
		"rebalances":   result.RebalanceCount,
		"failed_runs":  result.FailedRuns,
		"total_return": fmt.Sprintf("%.2f%%", result.TotalReturn*100),
		"sharpe_ratio": fmt.Sprintf("%.2f", result.SharpeRatio),
		"max_drawdown": fmt.Sprintf("%.2f%%", result.MaxDrawdown*100),
	}).Info("Backtest completed")

	return result, nil
}

func exposure(p contracts.Portfolio, prices map[string]float64) (long, short float64) {
	for t, pos := range p.Positions {
		price := prices[t]
		long += float64(pos.Long) * price
		short += float64(pos.Short) * price
	}
	return long, short
}
