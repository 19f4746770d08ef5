package analysts

import (
	"context"
	"math"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// GrowthID is the registry id of the growth analyst
const GrowthID = "growth_analyst"

// Growth scores the level and acceleration of revenue and earnings growth
type Growth struct {
	base
}

// NewGrowth creates the growth analyst
func NewGrowth(cfg *Config, log *logger.Logger, opts ...Option) *Growth {
	return &Growth{base: newBase(GrowthID, "Growth Analyst", cfg, log, opts)}
}

// GrowthReading is the evidence behind a growth signal
type GrowthReading struct {
	RevenueGrowth      float64 `json:"revenue_growth"`
	EarningsGrowth     float64 `json:"earnings_growth"`
	RevenueTrend       float64 `json:"revenue_trend"`
	EarningsTrend      float64 `json:"earnings_trend"`
	FreeCashFlowGrowth float64 `json:"free_cash_flow_growth"`
	Periods            int     `json:"periods"`
	Score              float64 `json:"score"`
}

// Run emits one signal per ticker
func (a *Growth) Run(ctx context.Context, state *contracts.RunState, data DataSource) error {
	return a.runTickers(ctx, state, func(ctx context.Context, ticker string) (contracts.Signal, error) {
		resp, err := data.GetFinancialMetrics(ctx, ticker, state.EndDate, contracts.PeriodTTM, a.cfg.Growth.Periods)
		if err != nil {
			return contracts.Signal{}, err
		}
		items, err := data.GetLineItems(ctx, ticker, []string{"free_cash_flow"}, state.EndDate, contracts.PeriodTTM, a.cfg.Growth.Periods)
		if err != nil {
			a.logger.WithError(err).WithField("ticker", ticker).Debug("Line items unavailable")
		}
		return a.score(ticker, resp.Data, items.Data), nil
	})
}

// score expects newest-first batches
func (a *Growth) score(ticker string, metrics []contracts.FinancialMetrics, items []contracts.LineItem) contracts.Signal {
	revenue := series(metrics, func(m contracts.FinancialMetrics) *float64 { return m.RevenueGrowth })
	earnings := series(metrics, func(m contracts.FinancialMetrics) *float64 { return m.EarningsGrowth })
	if len(revenue) == 0 && len(earnings) == 0 {
		return contracts.NeutralSignal(a.id, ticker, "无增长数据")
	}

	r := GrowthReading{Periods: len(metrics)}
	r.RevenueGrowth, r.RevenueTrend = levelAndTrend(revenue)
	r.EarningsGrowth, r.EarningsTrend = levelAndTrend(earnings)
	r.FreeCashFlowGrowth = fcfGrowth(items)

	level := math.Tanh((r.RevenueGrowth*0.5 + r.EarningsGrowth*0.5) * 5)
	trend := math.Tanh((r.RevenueTrend + r.EarningsTrend) * 5)
	cash := math.Tanh(r.FreeCashFlowGrowth * 2)
	r.Score = clamp(level*0.6+trend*0.25+cash*0.15, -1, 1)

	direction, confidence := fromScore(r.Score, a.cfg.Growth.Threshold)
	return contracts.Signal{Signal: direction, Confidence: confidence, Reasoning: r}
}

func series(metrics []contracts.FinancialMetrics, get func(contracts.FinancialMetrics) *float64) []float64 {
	out := make([]float64, 0, len(metrics))
	for _, m := range metrics {
		if v, ok := value(get(m)); ok {
			out = append(out, v)
		}
	}
	return out
}

// levelAndTrend returns the latest value and its change against the mean of the older ones
func levelAndTrend(newestFirst []float64) (float64, float64) {
	if len(newestFirst) == 0 {
		return 0, 0
	}
	latest := newestFirst[0]
	if len(newestFirst) == 1 {
		return latest, 0
	}
	sum := 0.0
	for _, v := range newestFirst[1:] {
		sum += v
	}
	return latest, latest - sum/float64(len(newestFirst)-1)
}

// fcfGrowth is newest vs oldest free cash flow, 0 when not comparable
func fcfGrowth(newestFirst []contracts.LineItem) float64 {
	var vals []float64
	for _, item := range newestFirst {
		if v, ok := value(item.FreeCashFlow); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) < 2 || vals[len(vals)-1] <= 0 {
		return 0
	}
	return vals[0]/vals[len(vals)-1] - 1
}
