package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Trade is one executed order
type Trade struct {
	Ticker    string           `json:"ticker"`
	Action    contracts.Action `json:"action"`
	Requested int64            `json:"requested"`
	Executed  int64            `json:"executed"`
	Price     float64          `json:"price"`
	Realized  float64          `json:"realized"`
}

// Ledger applies decisions to a portfolio at given prices
// ⭐ SSOT: position, cost basis and margin bookkeeping happens only here
type Ledger struct {
	portfolio contracts.Portfolio
	trades    []Trade
	logger    *logger.Logger
}

// NewLedger starts a ledger from a copy of p
func NewLedger(p contracts.Portfolio, log *logger.Logger) *Ledger {
	p = p.Clone()
	if p.Positions == nil {
		p.Positions = make(map[string]contracts.Position)
	}
	if p.RealizedGains == nil {
		p.RealizedGains = make(map[string]contracts.RealizedGains)
	}
	return &Ledger{portfolio: p, logger: log.Component("ledger")}
}

// Portfolio returns a copy of the current state
func (l *Ledger) Portfolio() contracts.Portfolio { return l.portfolio.Clone() }

// Trades returns executed trades in order
func (l *Ledger) Trades() []Trade { return append([]Trade(nil), l.trades...) }

// ApplyAll applies decisions in ticker order and marks equity to prices
func (l *Ledger) ApplyAll(decisions map[string]contracts.Decision, prices map[string]float64) []Trade {
	tickers := make([]string, 0, len(decisions))
	for t := range decisions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	var out []Trade
	for _, t := range tickers {
		trade, err := l.Apply(decisions[t], prices[t])
		if err != nil {
			l.logger.WithFields(map[string]interface{}{
				"ticker": t,
				"error":  err.Error(),
			}).Warn("Decision not applied")
			continue
		}
		if trade.Executed > 0 {
			out = append(out, trade)
		}
	}
	l.portfolio.Equity = l.portfolio.MarkToMarket(prices)
	return out
}

// Apply executes one decision. Orders larger than cash or holdings
// are partially filled.
func (l *Ledger) Apply(d contracts.Decision, price float64) (Trade, error) {
	trade := Trade{Ticker: d.Ticker, Action: d.Action, Requested: d.Quantity, Price: price}
	if err := d.Validate(); err != nil {
		return trade, err
	}
	if d.Action == contracts.ActionHold {
		return trade, nil
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return trade, fmt.Errorf("%w: no price for %s", contracts.ErrValidation, d.Ticker)
	}

	p := &l.portfolio
	pos := p.Positions[d.Ticker]
	gains := p.RealizedGains[d.Ticker]
	qty := d.Quantity

	switch d.Action {
	case contracts.ActionBuy:
		qty = min(qty, int64(math.Floor(p.Cash/price)))
		if qty > 0 {
			cost := float64(qty) * price
			pos.LongCostBasis = (pos.LongCostBasis*float64(pos.Long) + cost) / float64(pos.Long+qty)
			pos.Long += qty
			p.Cash -= cost
		}

	case contracts.ActionSell:
		qty = min(qty, pos.Long)
		if qty > 0 {
			trade.Realized = (price - pos.LongCostBasis) * float64(qty)
			gains.Long += trade.Realized
			pos.Long -= qty
			p.Cash += float64(qty) * price
			if pos.Long == 0 {
				pos.LongCostBasis = 0
			}
		}

	case contracts.ActionShort:
		if p.MarginRequirement > 0 {
			qty = min(qty, int64(math.Floor(p.Cash/(price*p.MarginRequirement))))
		}
		if qty > 0 {
			proceeds := float64(qty) * price
			margin := proceeds * p.MarginRequirement
			pos.ShortCostBasis = (pos.ShortCostBasis*float64(pos.Short) + proceeds) / float64(pos.Short+qty)
			pos.Short += qty
			pos.ShortMarginUsed += margin
			p.MarginUsed += margin
			p.Cash += proceeds - margin
		}

	case contracts.ActionCover:
		qty = min(qty, pos.Short)
		if qty > 0 {
			trade.Realized = (pos.ShortCostBasis - price) * float64(qty)
			gains.Short += trade.Realized

			release := pos.ShortMarginUsed * float64(qty) / float64(pos.Short)
			pos.Short -= qty
			pos.ShortMarginUsed -= release
			p.MarginUsed = math.Max(0, p.MarginUsed-release)
			p.Cash += release - float64(qty)*price
			if pos.Short == 0 {
				pos.ShortCostBasis = 0
				pos.ShortMarginUsed = 0
			}
		}
	}

	trade.Executed = max(0, qty)
	p.Positions[d.Ticker] = pos
	p.RealizedGains[d.Ticker] = gains

	if trade.Executed < d.Quantity {
		l.logger.WithFields(map[string]interface{}{
			"ticker":    d.Ticker,
			"action":    string(d.Action),
			"requested": d.Quantity,
			"executed":  trade.Executed,
		}).Debug("Partial fill")
	}
	if trade.Executed > 0 {
		l.trades = append(l.trades, trade)
	}
	return trade, nil
}
