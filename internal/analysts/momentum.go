package analysts

import (
	"context"
	"math"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// MomentumID is the registry id of the momentum analyst
const MomentumID = "momentum_analyst"

// Momentum scores 1M/3M returns and volume growth
// ⭐ SSOT: momentum signal math lives here
type Momentum struct {
	base
}

// NewMomentum creates the momentum analyst
func NewMomentum(cfg *Config, log *logger.Logger, opts ...Option) *Momentum {
	return &Momentum{base: newBase(MomentumID, "Momentum Analyst", cfg, log, opts)}
}

// MomentumReading is the evidence behind a momentum signal
type MomentumReading struct {
	ReturnShort  float64 `json:"return_1m"`
	ReturnLong   float64 `json:"return_3m"`
	VolumeGrowth float64 `json:"volume_growth"`
	Score        float64 `json:"score"`
}

// Run emits one signal per ticker
func (a *Momentum) Run(ctx context.Context, state *contracts.RunState, data DataSource) error {
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

func (a *Momentum) score(ticker string, prices []contracts.Price) contracts.Signal {
	cfg := a.cfg.Momentum
	if len(prices) <= cfg.ShortDays {
		return contracts.NeutralSignal(a.id, ticker, "价格数据不足")
	}

	r := MomentumReading{
		ReturnShort:  periodReturn(prices, cfg.ShortDays),
		ReturnLong:   periodReturn(prices, cfg.LongDays),
		VolumeGrowth: volumeGrowth(prices, cfg.ShortDays),
	}
	w := cfg.Weights
	r.Score = math.Tanh((r.ReturnShort*w[0] + r.ReturnLong*w[1] + r.VolumeGrowth*w[2]) * 2)

	a.logger.WithFields(map[string]interface{}{
		"ticker":        ticker,
		"return_1m":     r.ReturnShort,
		"return_3m":     r.ReturnLong,
		"volume_growth": r.VolumeGrowth,
		"score":         r.Score,
	}).Debug("Calculated momentum signal")

	direction, confidence := fromScore(r.Score, cfg.Threshold)
	return contracts.Signal{Signal: direction, Confidence: confidence, Reasoning: r}
}

// periodReturn is the close-to-close return over the last days bars (ascending input)
func periodReturn(prices []contracts.Price, days int) float64 {
	if len(prices) < days+1 {
		return 0
	}
	current := prices[len(prices)-1].Close
	past := prices[len(prices)-1-days].Close
	if past == 0 {
		return 0
	}
	return (current - past) / past
}

// volumeGrowth compares the last days bars' mean volume with the days before
func volumeGrowth(prices []contracts.Price, days int) float64 {
	if len(prices) < days*2 {
		return 0
	}
	n := len(prices)
	recent := averageVolume(prices[n-days:])
	past := averageVolume(prices[n-2*days : n-days])
	if past == 0 {
		return 0
	}
	return (recent - past) / past
}

func averageVolume(prices []contracts.Price) float64 {
	if len(prices) == 0 {
		return 0
	}
	var sum int64
	for _, p := range prices {
		sum += p.Volume
	}
	return float64(sum) / float64(len(prices))
}
