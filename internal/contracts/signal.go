package contracts

import "fmt"

// SignalDirection is the tagged direction an analyst emits
type SignalDirection string

const (
	Bullish SignalDirection = "bullish"
	Bearish SignalDirection = "bearish"
	Neutral SignalDirection = "neutral"
)

// Valid reports whether d is a known direction
func (d SignalDirection) Valid() bool {
	return d == Bullish || d == Bearish || d == Neutral
}

// Weight maps a direction to +1 / 0 / -1
func (d SignalDirection) Weight() float64 {
	switch d {
	case Bullish:
		return 1
	case Bearish:
		return -1
	}
	return 0
}

// Signal is one analyst's view on one ticker
// ⭐ SSOT: unique per (AnalystID, Ticker) within a run
type Signal struct {
	Ticker     string          `json:"ticker"`
	AnalystID  string          `json:"analyst_id"`
	Signal     SignalDirection `json:"signal"`
	Confidence int             `json:"confidence"` // 0 ~ 100
	Reasoning  any             `json:"reasoning,omitempty"`
}

// Validate checks direction and confidence range
func (s Signal) Validate() error {
	if !s.Signal.Valid() {
		return fmt.Errorf("%w: unknown signal %q", ErrValidation, s.Signal)
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d out of [0,100]", ErrValidation, s.Confidence)
	}
	return nil
}

// NeutralSignal builds the zero-confidence placeholder used for failed or timed-out analysts
func NeutralSignal(analystID, ticker, reasoning string) Signal {
	return Signal{
		Ticker:     ticker,
		AnalystID:  analystID,
		Signal:     Neutral,
		Confidence: 0,
		Reasoning:  reasoning,
	}
}

// ClampConfidence bounds c to [0, 100]
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// RiskAssessment is the risk gate's per-ticker output
type RiskAssessment struct {
	Ticker                 string            `json:"ticker"`
	CurrentPrice           float64           `json:"current_price"`
	RemainingPositionLimit float64           `json:"remaining_position_limit"`
	Volatility             VolatilitySummary `json:"volatility"`
	Reasoning              string            `json:"reasoning,omitempty"`
}

// VolatilitySummary is advisory output attached to a risk assessment
type VolatilitySummary struct {
	DailyVolatility      float64 `json:"daily_volatility"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	VolatilityFactor     float64 `json:"volatility_factor"`
	Bucket               string  `json:"bucket"` // low, medium, high, extreme
	VaR95                float64 `json:"var_95"`
	CVaR95               float64 `json:"cvar_95"`
	Observations         int     `json:"observations"`
}
