package contracts

import (
	"fmt"
	"sort"
)

// Position is the holding of a single ticker
type Position struct {
	Long            int64   `json:"long"`
	Short           int64   `json:"short"`
	LongCostBasis   float64 `json:"long_cost_basis"`
	ShortCostBasis  float64 `json:"short_cost_basis"`
	ShortMarginUsed float64 `json:"short_margin_used"`
}

// RealizedGains tracks closed P&L per side
type RealizedGains struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
}

// Portfolio is the caller-owned ledger
// ⭐ SSOT: share counts are integers, amounts in the market currency
type Portfolio struct {
	Cash              float64                  `json:"cash"`
	MarginRequirement float64                  `json:"margin_requirement"` // 0.0 ~ 1.0
	MarginUsed        float64                  `json:"margin_used"`
	Equity            float64                  `json:"equity"`
	Positions         map[string]Position      `json:"positions"`
	RealizedGains     map[string]RealizedGains `json:"realized_gains,omitempty"`
}

// NewPortfolio creates an empty portfolio holding only cash
func NewPortfolio(cash, marginRequirement float64, tickers []string) Portfolio {
	p := Portfolio{
		Cash:              cash,
		MarginRequirement: marginRequirement,
		Equity:            cash,
		Positions:         make(map[string]Position, len(tickers)),
		RealizedGains:     make(map[string]RealizedGains, len(tickers)),
	}
	for _, t := range tickers {
		p.Positions[t] = Position{}
		p.RealizedGains[t] = RealizedGains{}
	}
	return p
}

// Validate checks the portfolio preconditions
func (p Portfolio) Validate() error {
	if p.Cash < 0 {
		return fmt.Errorf("%w: cash must be >= 0, got %v", ErrPrecondition, p.Cash)
	}
	if p.MarginRequirement < 0 || p.MarginRequirement > 1 {
		return fmt.Errorf("%w: margin requirement must be in [0,1], got %v", ErrPrecondition, p.MarginRequirement)
	}
	if p.MarginUsed < 0 {
		return fmt.Errorf("%w: margin used must be >= 0, got %v", ErrPrecondition, p.MarginUsed)
	}
	for t, pos := range p.Positions {
		if pos.Long < 0 || pos.Short < 0 {
			return fmt.Errorf("%w: negative share count for %s", ErrPrecondition, t)
		}
	}
	return nil
}

// Position returns the position for ticker (zero value if absent)
func (p Portfolio) Position(ticker string) Position {
	return p.Positions[ticker]
}

// MarkToMarket computes equity as cash + margin held + long value - short
// liability. Short proceeds already sit in Cash, so an open short only
// subtracts the cost to buy the shares back. A side without a price is
// valued at its own cost basis.
func (p Portfolio) MarkToMarket(prices map[string]float64) float64 {
	equity := p.Cash + p.MarginUsed
	for t, pos := range p.Positions {
		longPx, shortPx := pos.LongCostBasis, pos.ShortCostBasis
		if price, ok := prices[t]; ok && price > 0 {
			longPx, shortPx = price, price
		}
		equity += float64(pos.Long)*longPx - float64(pos.Short)*shortPx
	}
	return equity
}

// Clone deep-copies the portfolio
func (p Portfolio) Clone() Portfolio {
	out := p
	out.Positions = make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		out.Positions[k] = v
	}
	out.RealizedGains = make(map[string]RealizedGains, len(p.RealizedGains))
	for k, v := range p.RealizedGains {
		out.RealizedGains[k] = v
	}
	return out
}

// Tickers returns position tickers sorted
func (p Portfolio) Tickers() []string {
	out := make([]string, 0, len(p.Positions))
	for t := range p.Positions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
