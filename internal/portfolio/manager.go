// Package portfolio turns analyst signals and risk limits into orders.
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/llm"
	"github.com/wonny/hedgefund/internal/risk"
	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/metrics"
)

// NodeID is the graph id of the portfolio manager
const NodeID = "portfolio_manager"

// lowConviction is the confidence at or below which a model hold is ignored
// when the fallback would trade
const lowConviction = 20

// Input is everything the manager needs for one run
type Input struct {
	Tickers   []string
	Signals   map[string]map[string]contracts.Signal // ticker -> analyst -> signal
	Risk      map[string]contracts.RiskAssessment
	Portfolio contracts.Portfolio
	Equity    float64
}

// Manager produces the final decision per ticker
// ⭐ SSOT: decision rules live here, the model only proposes
type Manager struct {
	lm      llm.LanguageModel
	metrics *metrics.Recorder
	logger  *logger.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLanguageModel lets the manager consult a model for non-trivial tickers
func WithLanguageModel(lm llm.LanguageModel) Option {
	return func(m *Manager) { m.lm = lm }
}

// WithMetrics records decisions
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager creates a manager
func NewManager(log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{logger: log.Component(NodeID)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run reads signals and risk limits from state and writes the decisions back
func (m *Manager) Run(ctx context.Context, state *contracts.RunState) error {
	if state == nil {
		return fmt.Errorf("%w: no run state", contracts.ErrPortfolioManagerFailure)
	}
	if err := state.Portfolio.Validate(); err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrPortfolioManagerFailure, err)
	}

	in := Input{
		Tickers:   state.Tickers,
		Signals:   make(map[string]map[string]contracts.Signal, len(state.Tickers)),
		Risk:      state.RiskAssessments(),
		Portfolio: state.Portfolio,
		Equity:    risk.Equity(state.Portfolio, state.CurrentPrices()),
	}
	for _, t := range state.Tickers {
		in.Signals[t] = state.SignalsFor(t)
	}

	decisions := m.Decide(ctx, in)
	state.SetDecisions(decisions)

	summary, _ := json.Marshal(decisions)
	state.AppendMessage(NodeID + ": " + string(summary))
	return nil
}

// Decide never fails: model errors fall back to the deterministic rule
// and an internal panic yields all-hold.
func (m *Manager) Decide(ctx context.Context, in Input) (out map[string]contracts.Decision) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", fmt.Sprint(r)).Error("Portfolio manager panicked, holding everything")
			out = make(map[string]contracts.Decision, len(in.Tickers))
			for _, t := range in.Tickers {
				out[t] = contracts.HoldDecision(t, 0, "内部错误, 全部持有")
			}
		}
	}()

	out = make(map[string]contracts.Decision, len(in.Tickers))
	for _, ticker := range in.Tickers {
		assessment := in.Risk[ticker]
		allowed := AllowedActions(assessment.CurrentPrice, assessment.RemainingPositionLimit,
			in.Portfolio.Position(ticker), in.Portfolio, in.Equity)

		var d contracts.Decision
		if allowed.OnlyHold() {
			d = PrefillHold(ticker)
		} else {
			fallback := Fallback(ticker, in.Signals[ticker], allowed)
			d = m.consult(ctx, ticker, in.Signals[ticker], allowed, fallback)
		}

		out[ticker] = d
		m.metrics.RecordDecision(string(d.Action))
	}

	m.logger.WithFields(map[string]interface{}{
		"tickers": len(in.Tickers),
		"model":   m.lm != nil,
	}).Info("Decisions ready")
	return out
}

type proposal struct {
	Action     string `json:"action"`
	Quantity   int64  `json:"quantity"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

var proposalSchema = llm.Schema{
	Name: "trading_decision",
	Fields: []llm.Field{
		{Name: "action", Type: "string", Enum: []string{"buy", "sell", "short", "cover", "hold"}},
		{Name: "quantity", Type: "integer", Description: "shares, not above the allowed maximum"},
		{Name: "confidence", Type: "integer", Description: "0 to 100"},
		{Name: "reasoning", Type: "string"},
	},
}

func (m *Manager) consult(ctx context.Context, ticker string, signals map[string]contracts.Signal, allowed Allowed, fallback contracts.Decision) contracts.Decision {
	if m.lm == nil {
		return fallback
	}

	p, err := llm.CompleteInto[proposal](ctx, m.lm, prompt(ticker, signals, allowed), proposalSchema)
	if err != nil {
		m.logger.WithError(err).WithField("ticker", ticker).Warn("Model decision failed, using fallback")
		return fallback
	}

	d, overridden := Reconcile(p.toDecision(ticker), allowed, fallback)
	if overridden {
		m.logger.WithFields(map[string]interface{}{
			"ticker":   ticker,
			"proposed": p.Action,
			"quantity": p.Quantity,
			"fallback": string(fallback.Action),
		}).Warn("Model decision overridden")
	}
	return d
}

func (p proposal) toDecision(ticker string) contracts.Decision {
	return contracts.Decision{
		Ticker:     ticker,
		Action:     contracts.Action(strings.ToLower(strings.TrimSpace(p.Action))),
		Quantity:   p.Quantity,
		Confidence: p.Confidence,
		Reasoning:  p.Reasoning,
	}
}

// Reconcile applies the override rules to a model proposal.
// It returns the fallback when the proposal is outside the allowed set,
// oversized, or a low-conviction hold while the fallback would trade.
func Reconcile(proposed contracts.Decision, allowed Allowed, fallback contracts.Decision) (contracts.Decision, bool) {
	maxQty, ok := allowed[proposed.Action]
	switch {
	case !ok:
		return fallback, true
	case proposed.Quantity > maxQty:
		return fallback, true
	case proposed.Action != contracts.ActionHold && proposed.Quantity <= 0:
		return fallback, true
	case proposed.Action == contracts.ActionHold && proposed.Confidence <= lowConviction && fallback.Action != contracts.ActionHold:
		return fallback, true
	}

	d := proposed
	if d.Action == contracts.ActionHold {
		d.Quantity = 0
	}
	d.Quantity = max(0, min(d.Quantity, maxQty))
	d.Confidence = contracts.ClampConfidence(d.Confidence)
	if d.Reasoning == "" {
		d.Reasoning = fallback.Reasoning
	}
	return d, false
}

func prompt(ticker string, signals map[string]contracts.Signal, allowed Allowed) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker %s. Analyst signals:\n", ticker)

	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s: %s (%d)\n", id, signals[id].Signal, signals[id].Confidence)
	}

	b.WriteString("Allowed actions with maximum quantity:\n")
	for _, a := range contracts.AllActions {
		if q, ok := allowed[a]; ok {
			fmt.Fprintf(&b, "- %s: %d\n", a, q)
		}
	}
	b.WriteString("Pick one allowed action and a quantity within its maximum.")
	return b.String()
}
