package analysts

import (
	"context"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// TechnicalID is the registry id of the technical analyst
const TechnicalID = "technical_analyst"

// Technical scores trend, mean reversion and MACD from daily closes
// ⭐ SSOT: indicator math goes through go-talib only
type Technical struct {
	base
}

// NewTechnical creates the technical analyst
func NewTechnical(cfg *Config, log *logger.Logger, opts ...Option) *Technical {
	return &Technical{base: newBase(TechnicalID, "Technical Analyst", cfg, log, opts)}
}

// Run emits one signal per ticker
func (a *Technical) Run(ctx context.Context, state *contracts.RunState, data DataSource) error {
	start, end, err := a.priceWindow(state)
	if err != nil {
		return err
	}
	return a.runTickers(ctx, state, func(ctx context.Context, ticker string) (contracts.Signal, error) {
		resp, err := data.GetPrices(ctx, ticker, start, end)
		if err != nil {
			return contracts.Signal{}, err
		}
		return a.score(ticker, resp.Data), nil
	})
}

// TechnicalReading is the indicator snapshot behind a technical signal
type TechnicalReading struct {
	Trend         float64 `json:"trend"`
	MeanReversion float64 `json:"mean_reversion"`
	MACD          float64 `json:"macd"`
	RSI           float64 `json:"rsi"`
	ADX           float64 `json:"adx"`
	BollingerPos  float64 `json:"bollinger_position"`
	Score         float64 `json:"score"`
	Bars          int     `json:"bars"`
}

func (a *Technical) score(ticker string, prices []contracts.Price) contracts.Signal {
	cfg := a.cfg.Technical
	if len(prices) < cfg.MinBars {
		return contracts.NeutralSignal(a.id, ticker, "价格数据不足")
	}

	r := a.read(prices)
	direction, confidence := fromScore(r.Score, cfg.Threshold)

	a.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"rsi":    r.RSI,
		"adx":    r.ADX,
		"score":  r.Score,
	}).Debug("Calculated technical signal")

	return contracts.Signal{Signal: direction, Confidence: confidence, Reasoning: r}
}

func (a *Technical) read(prices []contracts.Price) TechnicalReading {
	cfg := a.cfg.Technical
	c := closes(prices)
	high := make([]float64, len(prices))
	low := make([]float64, len(prices))
	for i, p := range prices {
		high[i], low[i] = p.High, p.Low
	}
	last := c[len(c)-1]

	r := TechnicalReading{Bars: len(prices)}

	// trend: EMA stack, scaled by ADX strength
	fast := lastValid(talib.Ema(c, cfg.EMAFast))
	slow := lastValid(talib.Ema(c, cfg.EMASlow))
	trend := lastValid(talib.Ema(c, cfg.EMATrend))
	r.ADX = lastValid(talib.Adx(high, low, c, cfg.ADXPeriod))
	strength := clamp(r.ADX/50, 0.2, 1)
	switch {
	case fast > slow && slow > trend:
		r.Trend = strength
	case fast < slow && slow < trend:
		r.Trend = -strength
	}

	// mean reversion: RSI extremes confirmed by Bollinger position
	r.RSI = lastValid(talib.Rsi(c, cfg.RSIPeriod))
	upper, _, lower := talib.BBands(c, cfg.BollingerPeriod, cfg.BollingerDev, cfg.BollingerDev, talib.SMA)
	r.BollingerPos = 0.5
	if u, l := lastValid(upper), lastValid(lower); u > l {
		r.BollingerPos = clamp((last-l)/(u-l), 0, 1)
	}
	switch {
	case r.RSI < 30 && r.BollingerPos < 0.2:
		r.MeanReversion = 1
	case r.RSI > 70 && r.BollingerPos > 0.8:
		r.MeanReversion = -1
	default:
		r.MeanReversion = (50 - r.RSI) / 50 * 0.5
	}
	// fading a strong trend counts half
	if r.ADX > 25 {
		r.MeanReversion *= 0.5
	}

	// MACD histogram relative to price
	_, _, hist := talib.Macd(c, 12, 26, 9)
	r.MACD = math.Tanh(lastValid(hist) / last * 100)

	w := cfg.Weights
	r.Score = clamp(r.Trend*w[0]+r.MeanReversion*w[1]+r.MACD*w[2], -1, 1)
	return r
}

// lastValid returns the last non-NaN value, 0 when none
func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}
