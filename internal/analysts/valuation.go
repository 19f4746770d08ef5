package analysts

import (
	"context"
	"math"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// ValuationID is the registry id of the valuation analyst
const ValuationID = "valuation_analyst"

var valuationItems = []string{
	"net_income", "depreciation_and_amortization", "capital_expenditure",
	"working_capital", "free_cash_flow", "outstanding_shares",
}

// Valuation compares owner-earnings and free-cash-flow DCF values with market cap.
// Cost of equity comes from the market table, so A-shares carry the country risk premium.
type Valuation struct {
	base
}

// NewValuation creates the valuation analyst
func NewValuation(cfg *Config, log *logger.Logger, opts ...Option) *Valuation {
	return &Valuation{base: newBase(ValuationID, "Valuation Analyst", cfg, log, opts)}
}

// ValuationReading is the evidence behind a valuation signal
type ValuationReading struct {
	CostOfEquity       float64 `json:"cost_of_equity"`
	Growth             float64 `json:"growth"`
	OwnerEarningsValue float64 `json:"owner_earnings_value,omitempty"`
	FCFValue           float64 `json:"fcf_value,omitempty"`
	IntrinsicValue     float64 `json:"intrinsic_value"`
	MarketCap          float64 `json:"market_cap"`
	Gap                float64 `json:"gap"`
}

// Run emits one signal per ticker
func (a *Valuation) Run(ctx context.Context, state *contracts.RunState, data DataSource) error {
	return a.runTickers(ctx, state, func(ctx context.Context, ticker string) (contracts.Signal, error) {
		metrics, err := data.GetFinancialMetrics(ctx, ticker, state.EndDate, contracts.PeriodTTM, 8)
		if err != nil {
			return contracts.Signal{}, err
		}
		items, err := data.GetLineItems(ctx, ticker, valuationItems, state.EndDate, contracts.PeriodTTM, 2)
		if err != nil {
			return contracts.Signal{}, err
		}
		if len(metrics.Data) == 0 || len(items.Data) == 0 {
			return contracts.NeutralSignal(a.id, ticker, "估值数据不足"), nil
		}

		marketCap, ok := value(metrics.Data[0].MarketCap)
		if !ok {
			marketCap, err = a.marketCapFromPrice(ctx, data, ticker, state.EndDate, items.Data[0])
			if err != nil {
				return contracts.Signal{}, err
			}
		}
		return a.score(ticker, metrics.Data, items.Data, marketCap), nil
	})
}

func (a *Valuation) marketCapFromPrice(ctx context.Context, data DataSource, ticker, endDate string, item contracts.LineItem) (float64, error) {
	shares, ok := value(item.OutstandingShares)
	if !ok {
		return 0, nil
	}
	end, err := contracts.ParseDate(endDate)
	if err != nil {
		return 0, err
	}
	resp, err := data.GetPrices(ctx, ticker, end.AddDate(0, 0, -30).Format(time.DateOnly), endDate)
	if err != nil || len(resp.Data) == 0 {
		return 0, err
	}
	return shares * resp.Data[len(resp.Data)-1].Close, nil
}

func (a *Valuation) score(ticker string, metrics []contracts.FinancialMetrics, items []contracts.LineItem, marketCap float64) contracts.Signal {
	cfg := a.cfg.Valuation
	if marketCap <= 0 {
		return contracts.NeutralSignal(a.id, ticker, "缺少市值")
	}

	r := ValuationReading{
		CostOfEquity: cfg.CostOfEquity(contracts.MarketOf(ticker)),
		Growth:       a.growth(metrics),
		MarketCap:    marketCap,
	}

	latest := items[0]
	var deltaWC float64
	if len(items) > 1 {
		cur, ok1 := value(latest.WorkingCapital)
		prev, ok2 := value(items[1].WorkingCapital)
		if ok1 && ok2 {
			deltaWC = cur - prev
		}
	}

	weights := 0.0
	if oe, ok := ownerEarnings(latest, deltaWC); ok && oe > 0 {
		r.OwnerEarningsValue = dcf(oe, r.Growth, r.CostOfEquity, cfg.TerminalGrowth, cfg.ProjectionYears) * (1 - cfg.MarginOfSafety)
		r.IntrinsicValue += r.OwnerEarningsValue * 0.5
		weights += 0.5
	}
	if fcf, ok := value(latest.FreeCashFlow); ok && fcf > 0 {
		r.FCFValue = dcf(fcf, r.Growth, r.CostOfEquity, cfg.TerminalGrowth, cfg.ProjectionYears)
		r.IntrinsicValue += r.FCFValue * 0.5
		weights += 0.5
	}
	if weights == 0 {
		return contracts.Signal{
			Signal:     contracts.Bearish,
			Confidence: 30,
			Reasoning:  "所有者收益与自由现金流均为负",
		}
	}
	r.IntrinsicValue /= weights
	r.Gap = (r.IntrinsicValue - marketCap) / marketCap

	direction := contracts.Neutral
	switch {
	case r.Gap > cfg.Threshold:
		direction = contracts.Bullish
	case r.Gap < -cfg.Threshold:
		direction = contracts.Bearish
	}
	confidence := contracts.ClampConfidence(int(math.Round(math.Min(math.Abs(r.Gap)/0.5, 1) * 100)))

	a.logger.WithFields(map[string]interface{}{
		"ticker":    ticker,
		"intrinsic": r.IntrinsicValue,
		"mcap":      marketCap,
		"gap":       r.Gap,
		"coe":       r.CostOfEquity,
	}).Debug("Calculated valuation signal")

	return contracts.Signal{Signal: direction, Confidence: confidence, Reasoning: r}
}

// growth takes the latest earnings growth, capped
func (a *Valuation) growth(metrics []contracts.FinancialMetrics) float64 {
	cfg := a.cfg.Valuation
	for _, m := range metrics {
		if g, ok := value(m.EarningsGrowth); ok {
			return clamp(g, 0, cfg.MaxGrowth)
		}
	}
	return cfg.DefaultGrowth
}

// ownerEarnings = net income + D&A - |capex| - change in working capital
func ownerEarnings(item contracts.LineItem, deltaWC float64) (float64, bool) {
	ni, ok := value(item.NetIncome)
	if !ok {
		return 0, false
	}
	da, _ := value(item.DepreciationAndAmortization)
	capex, _ := value(item.CapitalExpenditure)
	return ni + da - math.Abs(capex) - deltaWC, true
}

// dcf discounts years of cash growing at g, then a Gordon terminal value
func dcf(cash, g, r, terminalGrowth float64, years int) float64 {
	total := 0.0
	flow := cash
	for t := 1; t <= years; t++ {
		flow *= 1 + g
		total += flow / math.Pow(1+r, float64(t))
	}
	terminal := flow * (1 + terminalGrowth) / (r - terminalGrowth)
	return total + terminal/math.Pow(1+r, float64(years))
}
