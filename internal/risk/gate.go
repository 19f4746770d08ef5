package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/creasty/defaults"
	"gonum.org/v1/gonum/stat"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/logger"
)

// NodeID is the graph id of the risk gate
const NodeID = "risk_management_agent"

// Config sizes positions
type Config struct {
	LookbackDays int     `default:"60"`   // trading-day returns used for volatility
	BaseLimit    float64 `default:"0.20"` // fraction of equity per ticker before the volatility factor
	VolFloor     float64 `default:"0.4"`
	TradingDays  int     `default:"252"`
	Confidence   float64 `default:"0.95"`
}

// DefaultConfig returns the defaults
func DefaultConfig() Config {
	var cfg Config
	_ = defaults.Set(&cfg)
	return cfg
}

// PriceSource is the router read the gate needs
type PriceSource interface {
	GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error)
}

// Gate bounds exposure per ticker. It never emits a directional signal.
// ⭐ SSOT: remaining position limits are computed only here
type Gate struct {
	cfg    Config
	logger *logger.Logger
}

// NewGate creates a gate; zero-valued fields of cfg take defaults
func NewGate(cfg Config, log *logger.Logger) *Gate {
	_ = defaults.Set(&cfg)
	return &Gate{cfg: cfg, logger: log.Component("risk_gate")}
}

// Run fetches prices for every ticker, assesses them and stores the result in state
func (g *Gate) Run(ctx context.Context, state *contracts.RunState, data PriceSource) error {
	if err := state.Portfolio.Validate(); err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrRiskGateFailure, err)
	}
	end, err := contracts.ParseDate(state.EndDate)
	if err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrRiskGateFailure, err)
	}
	// calendar days covering LookbackDays sessions plus holidays
	start := end.AddDate(0, 0, -(g.cfg.LookbackDays*7/5 + 14))
	if s, err := contracts.ParseDate(state.StartDate); err == nil && s.Before(start) {
		start = s
	}

	prices := make(map[string][]contracts.Price, len(state.Tickers))
	for _, ticker := range state.Tickers {
		resp, err := data.GetPrices(ctx, ticker, start.Format(time.DateOnly), state.EndDate)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			g.logger.WithError(err).WithField("ticker", ticker).Warn("No prices for risk sizing")
			continue
		}
		prices[ticker] = resp.Data
	}

	assessments := g.Assess(state.Tickers, prices, state.Portfolio)
	state.SetRiskAssessments(assessments)
	return nil
}

// Assess is pure: same prices and portfolio give the same limits
func (g *Gate) Assess(tickers []string, prices map[string][]contracts.Price, portfolio contracts.Portfolio) map[string]contracts.RiskAssessment {
	latest := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if series := prices[t]; len(series) > 0 {
			latest[t] = series[len(series)-1].Close
		}
	}
	equity := Equity(portfolio, latest)

	out := make(map[string]contracts.RiskAssessment, len(tickers))
	for _, ticker := range tickers {
		price, ok := latest[ticker]
		if !ok || price <= 0 {
			out[ticker] = contracts.RiskAssessment{
				Ticker:    ticker,
				Reasoning: "缺少价格数据, 持仓上限为0",
			}
			continue
		}

		vol := g.volatility(prices[ticker])
		pos := portfolio.Position(ticker)
		positionValue := math.Abs(float64(pos.Long)*price - float64(pos.Short)*price)
		limit := math.Max(0, equity*g.cfg.BaseLimit*vol.VolatilityFactor-positionValue)

		out[ticker] = contracts.RiskAssessment{
			Ticker:                 ticker,
			CurrentPrice:           price,
			RemainingPositionLimit: limit,
			Volatility:             vol,
			Reasoning: fmt.Sprintf("权益 %.2f, 基础上限 %.0f%%, 波动率系数 %.2f (%s), 当前持仓市值 %.2f",
				equity, g.cfg.BaseLimit*100, vol.VolatilityFactor, vol.Bucket, positionValue),
		}
	}

	g.logger.WithFields(map[string]interface{}{
		"tickers": len(tickers),
		"equity":  equity,
	}).Debug("Risk assessment complete")
	return out
}

// Equity = cash + margin held + long value - short value, floored at 0
func Equity(p contracts.Portfolio, prices map[string]float64) float64 {
	return math.Max(0, p.MarkToMarket(prices))
}

func (g *Gate) volatility(prices []contracts.Price) contracts.VolatilitySummary {
	c := make([]float64, len(prices))
	for i, p := range prices {
		c[i] = p.Close
	}
	returns := DailyReturns(c)
	if len(returns) > g.cfg.LookbackDays {
		returns = returns[len(returns)-g.cfg.LookbackDays:]
	}

	summary := contracts.VolatilitySummary{Observations: len(returns)}
	if len(returns) < 2 {
		summary.VolatilityFactor = 1.0
		summary.Bucket = "unknown"
		return summary
	}

	summary.DailyVolatility = stat.StdDev(returns, nil)
	summary.AnnualizedVolatility = summary.DailyVolatility * math.Sqrt(float64(g.cfg.TradingDays))
	summary.VolatilityFactor = VolatilityFactor(summary.AnnualizedVolatility, g.cfg.VolFloor)
	summary.Bucket = Bucket(summary.AnnualizedVolatility)

	v := EstimateVaR(returns, g.cfg.Confidence)
	summary.VaR95 = v.VaR
	summary.CVaR95 = v.CVaR
	return summary
}

// VolatilityFactor is piecewise linear in annualised volatility:
// 1.25 up to 15%, 1.0 at 30%, 0.75 at 50%, reaching floor at 100%.
func VolatilityFactor(annualVol, floor float64) float64 {
	points := []struct{ vol, factor float64 }{
		{0.15, 1.25},
		{0.30, 1.0},
		{0.50, 0.75},
		{1.00, floor},
	}
	if annualVol <= points[0].vol {
		return points[0].factor
	}
	for i := 1; i < len(points); i++ {
		lo, hi := points[i-1], points[i]
		if annualVol <= hi.vol {
			t := (annualVol - lo.vol) / (hi.vol - lo.vol)
			return math.Max(floor, lo.factor+t*(hi.factor-lo.factor))
		}
	}
	return floor
}

// Bucket labels annualised volatility
func Bucket(annualVol float64) string {
	switch {
	case annualVol < 0.15:
		return "low"
	case annualVol < 0.30:
		return "medium"
	case annualVol < 0.50:
		return "high"
	}
	return "extreme"
}
