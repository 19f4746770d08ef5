package analysts

import (
	"context"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// FundamentalsID is the registry id of the fundamentals analyst
const FundamentalsID = "fundamentals_analyst"

// Fundamentals votes across profitability, growth, financial health and valuation
type Fundamentals struct {
	base
}

// NewFundamentals creates the fundamentals analyst
func NewFundamentals(cfg *Config, log *logger.Logger, opts ...Option) *Fundamentals {
	return &Fundamentals{base: newBase(FundamentalsID, "Fundamentals Analyst", cfg, log, opts)}
}

// Bucket is one scored dimension
type Bucket struct {
	Signal contracts.SignalDirection `json:"signal"`
	Passed int                       `json:"passed"`
	Checks int                       `json:"checks"`
}

// Run emits one signal per ticker from the latest TTM metrics
func (a *Fundamentals) Run(ctx context.Context, state *contracts.RunState, data DataSource) error {
	return a.runTickers(ctx, state, func(ctx context.Context, ticker string) (contracts.Signal, error) {
		resp, err := data.GetFinancialMetrics(ctx, ticker, state.EndDate, contracts.PeriodTTM, 10)
		if err != nil {
			return contracts.Signal{}, err
		}
		if len(resp.Data) == 0 {
			return contracts.NeutralSignal(a.id, ticker, "无财务指标"), nil
		}
		return a.score(resp.Data[0]), nil
	})
}

func (a *Fundamentals) score(m contracts.FinancialMetrics) contracts.Signal {
	cfg := a.cfg.Fundamentals
	buckets := map[string]Bucket{
		"profitability": above(
			check(m.ReturnOnEquity, cfg.ROEMin),
			check(m.NetMargin, cfg.NetMarginMin),
			check(m.OperatingMargin, cfg.OperatingMarginMin),
		),
		"growth": above(
			check(m.RevenueGrowth, cfg.RevenueGrowthMin),
			check(m.EarningsGrowth, cfg.EarningsGrowthMin),
			check(m.BookValueGrowth, cfg.BookValueGrowthMin),
		),
		"financial_health": health(m, cfg),
		"valuation":        valuationBucket(m, cfg),
	}

	bullish, bearish := 0, 0
	for _, b := range buckets {
		switch b.Signal {
		case contracts.Bullish:
			bullish++
		case contracts.Bearish:
			bearish++
		}
	}
	direction, confidence := fromVotes(bullish, bearish, len(buckets))
	return contracts.Signal{Signal: direction, Confidence: confidence, Reasoning: buckets}
}

// check is nil when the metric is missing, else whether v > threshold
func check(v *float64, threshold float64) *bool {
	x, ok := value(v)
	if !ok {
		return nil
	}
	passed := x > threshold
	return &passed
}

// above turns checks into a bucket: 2+ passes bullish, 0 passes bearish
func above(checks ...*bool) Bucket {
	var b Bucket
	for _, c := range checks {
		if c == nil {
			continue
		}
		b.Checks++
		if *c {
			b.Passed++
		}
	}
	switch {
	case b.Checks == 0:
		b.Signal = contracts.Neutral
	case b.Passed >= 2:
		b.Signal = contracts.Bullish
	case b.Passed == 0:
		b.Signal = contracts.Bearish
	default:
		b.Signal = contracts.Neutral
	}
	return b
}

func health(m contracts.FinancialMetrics, cfg FundamentalsConfig) Bucket {
	var fcf *bool
	if f, ok := value(m.FreeCashFlowPerShare); ok {
		if eps, ok := value(m.EarningsPerShare); ok && eps > 0 {
			passed := f > eps*cfg.FCFToEPSMin
			fcf = &passed
		}
	}
	var leverage *bool
	if de, ok := value(m.DebtToEquity); ok {
		passed := de < cfg.DebtToEquityMax
		leverage = &passed
	}
	return above(check(m.CurrentRatio, cfg.CurrentRatioMin), leverage, fcf)
}

// valuationBucket is inverted: expensive multiples are bearish
func valuationBucket(m contracts.FinancialMetrics, cfg FundamentalsConfig) Bucket {
	b := above(
		check(m.PriceToEarningsRatio, cfg.PEMax),
		check(m.PriceToBookRatio, cfg.PBMax),
		check(m.PriceToSalesRatio, cfg.PSMax),
	)
	switch {
	case b.Checks == 0:
	case b.Passed >= 2:
		b.Signal = contracts.Bearish
	case b.Passed == 0:
		b.Signal = contracts.Bullish
	default:
		b.Signal = contracts.Neutral
	}
	return b
}
