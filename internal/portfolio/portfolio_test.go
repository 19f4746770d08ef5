package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/llm"
	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/metrics"
)

func sig(id string, dir contracts.SignalDirection, confidence int) contracts.Signal {
	return contracts.Signal{AnalystID: id, Signal: dir, Confidence: confidence}
}

func signals(list ...contracts.Signal) map[string]contracts.Signal {
	out := make(map[string]contracts.Signal, len(list))
	for _, s := range list {
		out[s.AnalystID] = s
	}
	return out
}

func TestAllowedActions(t *testing.T) {
	tests := []struct {
		name   string
		price  float64
		limit  float64
		pos    contracts.Position
		cash   float64
		margin float64
		used   float64
		equity float64
		want   Allowed
	}{
		{
			name: "cash and limit bound buy", price: 100, limit: 10000, cash: 5050, margin: 0.5, equity: 5050,
			want: Allowed{contracts.ActionHold: 0, contracts.ActionBuy: 50, contracts.ActionShort: 100},
		},
		{
			name: "positions enable sell and cover", price: 100, limit: 0, pos: contracts.Position{Long: 30, Short: 7}, cash: 0, margin: 0.5, equity: 1000,
			want: Allowed{contracts.ActionHold: 0, contracts.ActionSell: 30, contracts.ActionCover: 7},
		},
		{
			name: "margin headroom bounds short", price: 100, limit: 100000, cash: 0, margin: 0.5, used: 1500, equity: 1000,
			want: Allowed{contracts.ActionHold: 0, contracts.ActionShort: 5},
		},
		{
			name: "zero margin requirement uses the limit", price: 100, limit: 1999, cash: 0, margin: 0, equity: 0,
			want: Allowed{contracts.ActionHold: 0, contracts.ActionShort: 19},
		},
		{
			name: "no price holds", price: 0, limit: 10000, pos: contracts.Position{Long: 10}, cash: 10000, margin: 0.5, equity: 10000,
			want: Allowed{contracts.ActionHold: 0},
		},
		{
			name: "decimal floor", price: 0.1, limit: 0.3, cash: 0.3, margin: 1, equity: 0,
			want: Allowed{contracts.ActionHold: 0, contracts.ActionBuy: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := contracts.NewPortfolio(tt.cash, tt.margin, nil)
			p.MarginUsed = tt.used
			assert.Equal(t, tt.want, AllowedActions(tt.price, tt.limit, tt.pos, p, tt.equity))
		})
	}
}

func TestFallback(t *testing.T) {
	full := Allowed{contracts.ActionHold: 0, contracts.ActionBuy: 100, contracts.ActionShort: 40}

	tests := []struct {
		name       string
		signals    map[string]contracts.Signal
		allowed    Allowed
		wantAction contracts.Action
		wantQty    int64
	}{
		{"bullish majority buys", signals(sig("a", contracts.Bullish, 90), sig("b", contracts.Bearish, 30)), full, contracts.ActionBuy, 100},
		{"bearish without long shorts", signals(sig("a", contracts.Bearish, 90)), full, contracts.ActionShort, 40},
		{"bearish with long sells first", signals(sig("a", contracts.Bearish, 90)),
			Allowed{contracts.ActionHold: 0, contracts.ActionSell: 12, contracts.ActionShort: 40}, contracts.ActionSell, 12},
		{"bullish with short covers first", signals(sig("a", contracts.Bullish, 60)),
			Allowed{contracts.ActionHold: 0, contracts.ActionBuy: 5, contracts.ActionCover: 8}, contracts.ActionCover, 8},
		{"close call holds", signals(sig("a", contracts.Bullish, 70), sig("b", contracts.Bearish, 50)), full, contracts.ActionHold, 0},
		{"bullish but buy not allowed", signals(sig("a", contracts.Bullish, 90)),
			Allowed{contracts.ActionHold: 0, contracts.ActionShort: 40}, contracts.ActionHold, 0},
		{"no signals", nil, full, contracts.ActionHold, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Fallback("AAPL", tt.signals, tt.allowed)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantQty, d.Quantity)
			assert.NoError(t, d.Validate())
			assert.NotEmpty(t, d.Reasoning)
		})
	}
}

func TestReconcile(t *testing.T) {
	allowed := Allowed{contracts.ActionHold: 0, contracts.ActionBuy: 100}
	fallback := contracts.Decision{Ticker: "X", Action: contracts.ActionBuy, Quantity: 100, Confidence: 85, Reasoning: "fallback"}

	tests := []struct {
		name         string
		proposed     contracts.Decision
		wantOverride bool
		want         contracts.Decision
	}{
		{"action not allowed", contracts.Decision{Action: contracts.ActionShort, Quantity: 5}, true, fallback},
		{"unknown action", contracts.Decision{Action: "yolo", Quantity: 5}, true, fallback},
		{"quantity above max", contracts.Decision{Action: contracts.ActionBuy, Quantity: 101}, true, fallback},
		{"trade with zero quantity", contracts.Decision{Action: contracts.ActionBuy}, true, fallback},
		{"low conviction hold", contracts.Decision{Action: contracts.ActionHold, Confidence: 20}, true, fallback},
		{
			"confident hold kept",
			contracts.Decision{Ticker: "X", Action: contracts.ActionHold, Confidence: 70, Reasoning: "wait"},
			false,
			contracts.Decision{Ticker: "X", Action: contracts.ActionHold, Confidence: 70, Reasoning: "wait"},
		},
		{
			"smaller buy kept and clamped",
			contracts.Decision{Ticker: "X", Action: contracts.ActionBuy, Quantity: 40, Confidence: 140},
			false,
			contracts.Decision{Ticker: "X", Action: contracts.ActionBuy, Quantity: 40, Confidence: 100, Reasoning: "fallback"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, overridden := Reconcile(tt.proposed, allowed, fallback)
			assert.Equal(t, tt.wantOverride, overridden)
			assert.Equal(t, tt.want, got)
		})
	}
}

func singleTicker(ticker string, sigs map[string]contracts.Signal, price, limit, cash float64, margin float64) Input {
	p := contracts.NewPortfolio(cash, margin, []string{ticker})
	return Input{
		Tickers:   []string{ticker},
		Signals:   map[string]map[string]contracts.Signal{ticker: sigs},
		Risk:      map[string]contracts.RiskAssessment{ticker: {Ticker: ticker, CurrentPrice: price, RemainingPositionLimit: limit}},
		Portfolio: p,
		Equity:    cash,
	}
}

// With zero equity the position limit is 0 and Decide prefills hold at
// confidence 100 before any signal is read, so the vote path is driven here
// with a funded limit instead.
func TestDecide_ContradictorySignalsHold(t *testing.T) {
	in := singleTicker("600519",
		signals(sig("analyst_a", contracts.Bullish, 80), sig("analyst_b", contracts.Bearish, 80)),
		1700, 20000, 0, 0)

	got := NewManager(logger.Nop()).Decide(context.Background(), in)["600519"]
	assert.Equal(t, contracts.ActionHold, got.Action)
	assert.Zero(t, got.Quantity)
	assert.LessOrEqual(t, got.Confidence, 50)
}

func bullishMajority() Input {
	return singleTicker("AAPL",
		signals(
			sig("technical_analyst", contracts.Bullish, 90),
			sig("fundamentals_analyst", contracts.Bullish, 80),
			sig("sentiment_analyst", contracts.Neutral, 50),
		),
		100, 10000, 10000, 0.5)
}

func TestDecide_BullishMajorityBuys(t *testing.T) {
	got := NewManager(logger.Nop(), WithMetrics(metrics.New())).Decide(context.Background(), bullishMajority())["AAPL"]

	assert.Equal(t, contracts.ActionBuy, got.Action)
	assert.Equal(t, int64(100), got.Quantity)
	assert.Equal(t, 85, got.Confidence)
	assert.Contains(t, got.Reasoning, "看多 2 票")
	assert.Contains(t, got.Reasoning, "technical_analyst")
	assert.Contains(t, got.Reasoning, "fundamentals_analyst")
	assert.NotContains(t, got.Reasoning, "sentiment_analyst")
}

func TestDecide_LowConvictionModelHoldOverridden(t *testing.T) {
	lm := llm.Static(`{"action":"hold","quantity":0,"confidence":10,"reasoning":"unsure"}`)
	in := bullishMajority()

	got := NewManager(logger.Nop(), WithLanguageModel(lm)).Decide(context.Background(), in)["AAPL"]
	want := Fallback("AAPL", in.Signals["AAPL"], Allowed{contracts.ActionHold: 0, contracts.ActionBuy: 100, contracts.ActionShort: 100})

	assert.Equal(t, contracts.ActionBuy, got.Action)
	assert.Equal(t, int64(100), got.Quantity)
	assert.Equal(t, want.Confidence, got.Confidence)
	assert.Equal(t, want.Reasoning, got.Reasoning)
}

func TestDecide_ModelProposalAccepted(t *testing.T) {
	lm := llm.Static(`{"action":"BUY","quantity":40,"confidence":70,"reasoning":"scale in"}`)
	got := NewManager(logger.Nop(), WithLanguageModel(lm)).Decide(context.Background(), bullishMajority())["AAPL"]

	assert.Equal(t, contracts.Decision{Ticker: "AAPL", Action: contracts.ActionBuy, Quantity: 40, Confidence: 70, Reasoning: "scale in"}, got)
}

func TestDecide_ModelFailuresFallBack(t *testing.T) {
	failing := []llm.LanguageModel{
		llm.Func(func(context.Context, string, llm.Schema) (json.RawMessage, error) {
			return nil, errors.New("upstream 500")
		}),
		llm.Static(`{"action": 7}`),
	}
	for _, lm := range failing {
		got := NewManager(logger.Nop(), WithLanguageModel(lm)).Decide(context.Background(), bullishMajority())["AAPL"]
		assert.Equal(t, contracts.ActionBuy, got.Action)
		assert.Equal(t, int64(100), got.Quantity)
	}
}

func TestDecide_OnlyHoldIsPrefilled(t *testing.T) {
	called := false
	lm := llm.Func(func(context.Context, string, llm.Schema) (json.RawMessage, error) {
		called = true
		return nil, nil
	})
	in := singleTicker("AAPL", signals(sig("a", contracts.Bullish, 100)), 100, 0, 0, 0.5)

	got := NewManager(logger.Nop(), WithLanguageModel(lm)).Decide(context.Background(), in)["AAPL"]
	assert.Equal(t, PrefillHold("AAPL"), got)
	assert.False(t, called)
}

func TestDecide_PanicHoldsEverything(t *testing.T) {
	lm := llm.Func(func(context.Context, string, llm.Schema) (json.RawMessage, error) {
		panic("boom")
	})
	got := NewManager(logger.Nop(), WithLanguageModel(lm)).Decide(context.Background(), bullishMajority())
	require.Len(t, got, 1)
	assert.Equal(t, contracts.ActionHold, got["AAPL"].Action)
}

func TestRun(t *testing.T) {
	p := contracts.NewPortfolio(10000, 0.5, []string{"AAPL"})
	state := contracts.NewRunState([]string{"AAPL"}, "2024-01-01", "2024-03-01", p, contracts.RunMetadata{})
	require.NoError(t, state.SetSignal("technical_analyst", contracts.Signal{Ticker: "AAPL", Signal: contracts.Bullish, Confidence: 90}))
	state.SetRiskAssessments(map[string]contracts.RiskAssessment{
		"AAPL": {Ticker: "AAPL", CurrentPrice: 100, RemainingPositionLimit: 2500},
	})

	require.NoError(t, NewManager(logger.Nop()).Run(context.Background(), state))
	d := state.Decisions()["AAPL"]
	assert.Equal(t, contracts.ActionBuy, d.Action)
	assert.Equal(t, int64(25), d.Quantity)
	assert.NotEmpty(t, state.Messages())

	bad := contracts.NewRunState([]string{"AAPL"}, "2024-01-01", "2024-03-01", contracts.NewPortfolio(-5, 0.5, nil), contracts.RunMetadata{})
	assert.ErrorIs(t, NewManager(logger.Nop()).Run(context.Background(), bad), contracts.ErrPortfolioManagerFailure)
	assert.ErrorIs(t, NewManager(logger.Nop()).Run(context.Background(), nil), contracts.ErrPortfolioManagerFailure)
}

func TestLedger_LongRoundTrip(t *testing.T) {
	l := NewLedger(contracts.NewPortfolio(10000, 0.5, []string{"AAPL"}), logger.Nop())

	_, err := l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionBuy, Quantity: 10}, 100)
	require.NoError(t, err)
	_, err = l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionBuy, Quantity: 10}, 110)
	require.NoError(t, err)

	p := l.Portfolio()
	assert.Equal(t, int64(20), p.Positions["AAPL"].Long)
	assert.InDelta(t, 105, p.Positions["AAPL"].LongCostBasis, 1e-9)
	assert.InDelta(t, 7900, p.Cash, 1e-9)

	trade, err := l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionSell, Quantity: 15}, 120)
	require.NoError(t, err)
	assert.InDelta(t, 225, trade.Realized, 1e-9)

	p = l.Portfolio()
	assert.Equal(t, int64(5), p.Positions["AAPL"].Long)
	assert.InDelta(t, 9700, p.Cash, 1e-9)
	assert.InDelta(t, 225, p.RealizedGains["AAPL"].Long, 1e-9)
	assert.Len(t, l.Trades(), 3)
}

func TestLedger_ShortAndCover(t *testing.T) {
	l := NewLedger(contracts.NewPortfolio(10000, 0.5, []string{"AAPL"}), logger.Nop())

	_, err := l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionShort, Quantity: 10}, 100)
	require.NoError(t, err)
	p := l.Portfolio()
	assert.InDelta(t, 10500, p.Cash, 1e-9)
	assert.InDelta(t, 500, p.MarginUsed, 1e-9)
	assert.InDelta(t, 500, p.Positions["AAPL"].ShortMarginUsed, 1e-9)

	trade, err := l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionCover, Quantity: 10}, 90)
	require.NoError(t, err)
	assert.InDelta(t, 100, trade.Realized, 1e-9)

	p = l.Portfolio()
	assert.InDelta(t, 10100, p.Cash, 1e-9)
	assert.Zero(t, p.MarginUsed)
	assert.Zero(t, p.Positions["AAPL"].Short)
	assert.Zero(t, p.Positions["AAPL"].ShortCostBasis)
}

func TestLedger_ShortRoundTripKeepsEquityAtFlatPrice(t *testing.T) {
	l := NewLedger(contracts.NewPortfolio(10000, 0.5, []string{"AAPL"}), logger.Nop())
	prices := map[string]float64{"AAPL": 100}

	trades := l.ApplyAll(map[string]contracts.Decision{
		"AAPL": {Ticker: "AAPL", Action: contracts.ActionShort, Quantity: 10},
	}, prices)
	require.Len(t, trades, 1)
	assert.InDelta(t, 10000, l.Portfolio().Equity, 1e-9)

	prices["AAPL"] = 110
	assert.InDelta(t, 9900, l.Portfolio().MarkToMarket(prices), 1e-9)
	prices["AAPL"] = 100

	trades = l.ApplyAll(map[string]contracts.Decision{
		"AAPL": {Ticker: "AAPL", Action: contracts.ActionCover, Quantity: 10},
	}, prices)
	require.Len(t, trades, 1)
	assert.InDelta(t, 10000, l.Portfolio().Equity, 1e-9)
}

func TestLedger_PartialFillsAndRejects(t *testing.T) {
	l := NewLedger(contracts.NewPortfolio(1000, 0.5, []string{"AAPL"}), logger.Nop())

	trade, err := l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionBuy, Quantity: 20}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), trade.Executed)

	trade, err = l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionSell, Quantity: 50}, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), trade.Executed)

	_, err = l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionBuy, Quantity: 0}, 100)
	assert.ErrorIs(t, err, contracts.ErrValidation)
	_, err = l.Apply(contracts.Decision{Ticker: "AAPL", Action: contracts.ActionBuy, Quantity: 1}, 0)
	assert.ErrorIs(t, err, contracts.ErrValidation)

	trade, err = l.Apply(contracts.HoldDecision("AAPL", 50, ""), 100)
	require.NoError(t, err)
	assert.Zero(t, trade.Executed)
}

func TestLedger_ApplyAllMarksEquity(t *testing.T) {
	l := NewLedger(contracts.NewPortfolio(10000, 0.5, []string{"AAPL", "MSFT"}), logger.Nop())
	trades := l.ApplyAll(map[string]contracts.Decision{
		"AAPL": {Ticker: "AAPL", Action: contracts.ActionBuy, Quantity: 10},
		"MSFT": contracts.HoldDecision("MSFT", 50, ""),
	}, map[string]float64{"AAPL": 100, "MSFT": 200})

	require.Len(t, trades, 1)
	assert.Equal(t, "AAPL", trades[0].Ticker)
	assert.InDelta(t, 10000, l.Portfolio().Equity, 1e-9)
}
