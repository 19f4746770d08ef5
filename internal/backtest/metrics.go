package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/portfolio"
)

const tradingDaysPerYear = 252

// Metrics summarizes an equity curve. Ratios assume a zero risk-free rate.
type Metrics struct {
	InitialCapital   float64 `json:"initial_capital"`
	FinalCapital     float64 `json:"final_capital"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MaxDrawdownDate  string  `json:"max_drawdown_date,omitempty"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

func computeMetrics(initial float64, curve []EquityPoint, trades []portfolio.Trade) Metrics {
	m := Metrics{InitialCapital: initial, FinalCapital: initial}
	countTrades(&m, trades)
	if len(curve) == 0 {
		return m
	}

	m.FinalCapital = curve[len(curve)-1].Equity
	m.TotalReturn = m.FinalCapital/initial - 1
	m.MaxDrawdown, m.MaxDrawdownDate = maxDrawdown(curve)

	returns := dailyReturns(initial, curve)
	if len(returns) < 2 {
		return m
	}

	mean := stat.Mean(returns, nil)
	m.AnnualizedReturn = mean * tradingDaysPerYear
	m.Volatility = stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear)
	if m.Volatility > 0 {
		m.SharpeRatio = m.AnnualizedReturn / m.Volatility
	}
	if dd := downsideDeviation(returns) * math.Sqrt(tradingDaysPerYear); dd > 0 {
		m.SortinoRatio = m.AnnualizedReturn / dd
	}
	return m
}

func countTrades(m *Metrics, trades []portfolio.Trade) {
	for _, tr := range trades {
		if tr.Executed == 0 {
			continue
		}
		m.TotalTrades++
		if tr.Action != contracts.ActionSell && tr.Action != contracts.ActionCover {
			continue
		}
		m.RealizedPnL += tr.Realized
		switch {
		case tr.Realized > 0:
			m.WinningTrades++
		case tr.Realized < 0:
			m.LosingTrades++
		}
	}
	if closed := m.WinningTrades + m.LosingTrades; closed > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(closed)
	}
}

// dailyReturns includes the first day's return against the initial capital
func dailyReturns(initial float64, curve []EquityPoint) []float64 {
	out := make([]float64, 0, len(curve))
	prev := initial
	for _, p := range curve {
		if prev > 0 {
			out = append(out, p.Equity/prev-1)
		}
		prev = p.Equity
	}
	return out
}

// downsideDeviation is the root mean square of negative returns over all periods
func downsideDeviation(returns []float64) float64 {
	var sum float64
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

func maxDrawdown(curve []EquityPoint) (float64, string) {
	var worst float64
	var date string
	peak := curve[0].Equity
	for _, p := range curve {
		peak = math.Max(peak, p.Equity)
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak; dd > worst {
			worst, date = dd, p.Date
		}
	}
	return worst, date
}
