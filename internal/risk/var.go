package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// VaRResult holds value-at-risk figures
// ⭐ SSOT: losses are positive (VaR=0.05 means a 5% loss at the confidence level)
type VaRResult struct {
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	CVaR       float64 `json:"cvar"`
	Method     string  `json:"method"`
}

// minHistorical is the sample size below which VaR falls back to the normal approximation
const minHistorical = 20

// HistoricalVaR computes VaR/CVaR by historical simulation over daily returns
func HistoricalVaR(returns []float64, confidence float64) VaRResult {
	out := VaRResult{Confidence: confidence, Method: "historical"}
	if len(returns) == 0 {
		return out
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	out.VaR = lossOf(sorted[idx])
	out.CVaR = lossOf(stat.Mean(sorted[:idx+1], nil))
	return out
}

// ParametricVaR assumes normally distributed returns
func ParametricVaR(mean, stdDev, confidence float64) VaRResult {
	out := VaRResult{Confidence: confidence, Method: "parametric"}
	if stdDev <= 0 {
		return out
	}
	dist := distuv.Normal{Mu: mean, Sigma: stdDev}
	out.VaR = lossOf(dist.Quantile(1 - confidence))

	// expected shortfall of a normal: mu - sigma * pdf(z) / (1 - c)
	z := distuv.UnitNormal.Quantile(confidence)
	out.CVaR = lossOf(mean - stdDev*distuv.UnitNormal.Prob(z)/(1-confidence))
	return out
}

// EstimateVaR uses historical simulation when there is enough data
func EstimateVaR(returns []float64, confidence float64) VaRResult {
	if len(returns) >= minHistorical {
		return HistoricalVaR(returns, confidence)
	}
	if len(returns) < 2 {
		return VaRResult{Confidence: confidence, Method: "none"}
	}
	mean, std := stat.MeanStdDev(returns, nil)
	return ParametricVaR(mean, std, confidence)
}

func lossOf(r float64) float64 {
	if r < 0 {
		return -r
	}
	return 0
}

// DailyReturns computes simple close-to-close returns from ascending prices
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}
