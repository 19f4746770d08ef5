// Package analysts holds the signal-producing nodes of the analysis graph.
// Each analyst reads data through DataSource and writes one Signal per
// ticker into its own partition of the run state.
package analysts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/llm"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/logger"
)

// DataSource is the read side of the router
type DataSource interface {
	GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error)
	GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.FinancialMetrics], error)
	GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.LineItem], error)
	GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (provider.Response[[]contracts.CompanyNews], error)
}

// Analyst is one node of the analysis graph
type Analyst interface {
	ID() string
	Name() string
	Run(ctx context.Context, state *contracts.RunState, data DataSource) error
}

// Option configures the shared parts of an analyst
type Option func(*base)

// WithLanguageModel attaches a model that writes a short narrative
// when the run asks for reasoning
func WithLanguageModel(lm llm.LanguageModel) Option {
	return func(b *base) { b.lm = lm }
}

// base carries what every analyst shares
type base struct {
	id     string
	name   string
	cfg    *Config
	lm     llm.LanguageModel
	logger *logger.Logger
}

func newBase(id, name string, cfg *Config, log *logger.Logger, opts []Option) base {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	b := base{id: id, name: name, cfg: cfg, logger: log.WithField("analyst", id)}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) ID() string   { return b.id }
func (b *base) Name() string { return b.name }

// evaluate scores one ticker; a nil error with a zero Signal is not allowed
type evaluate func(ctx context.Context, ticker string) (contracts.Signal, error)

// runTickers processes tickers serially. Data failures degrade to a neutral
// signal; only cancellation aborts the loop.
func (b *base) runTickers(ctx context.Context, state *contracts.RunState, fn evaluate) error {
	for _, ticker := range state.Tickers {
		if err := ctx.Err(); err != nil {
			return err
		}

		sig, err := fn(ctx, ticker)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			b.logger.WithError(err).WithField("ticker", ticker).Warn("Analyst data unavailable, emitting neutral")
			sig = contracts.NeutralSignal(b.id, ticker, "数据不可用: "+err.Error())
		}
		sig.Ticker = ticker
		sig.AnalystID = b.id

		if state.Metadata.ShowReasoning {
			sig.Reasoning = b.narrate(ctx, sig)
		}
		if err := state.SetSignal(b.id, sig); err != nil {
			return fmt.Errorf("%w: %s: %w", contracts.ErrAnalystFailure, b.id, err)
		}
	}
	return nil
}

type narrative struct {
	Summary string `json:"summary"`
}

var narrativeSchema = llm.Schema{
	Name: "analyst_narrative",
	Fields: []llm.Field{
		{Name: "summary", Type: "string", Description: "two sentences explaining the signal"},
	},
}

// narrate asks the model for prose. The signal itself is never changed;
// model failures leave the deterministic reasoning in place.
func (b *base) narrate(ctx context.Context, sig contracts.Signal) any {
	if b.lm == nil || sig.Confidence == 0 {
		return sig.Reasoning
	}
	prompt := fmt.Sprintf("Analyst %s rated %s %s with confidence %d. Evidence: %v",
		b.name, sig.Ticker, sig.Signal, sig.Confidence, sig.Reasoning)
	out, err := llm.CompleteInto[narrative](ctx, b.lm, prompt, narrativeSchema)
	if err != nil || out.Summary == "" {
		return sig.Reasoning
	}
	return map[string]any{"details": sig.Reasoning, "summary": out.Summary}
}

// fromScore maps a score in [-1, 1] to a signal
func fromScore(score, threshold float64) (contracts.SignalDirection, int) {
	score = clamp(score, -1, 1)
	confidence := contracts.ClampConfidence(int(math.Round(math.Abs(score) * 100)))
	switch {
	case score > threshold:
		return contracts.Bullish, confidence
	case score < -threshold:
		return contracts.Bearish, confidence
	}
	return contracts.Neutral, confidence
}

// fromVotes maps bullish/bearish counts out of total to a signal
func fromVotes(bullish, bearish, total int) (contracts.SignalDirection, int) {
	if total == 0 {
		return contracts.Neutral, 0
	}
	switch {
	case bullish > bearish:
		return contracts.Bullish, bullish * 100 / total
	case bearish > bullish:
		return contracts.Bearish, bearish * 100 / total
	}
	return contracts.Neutral, max(bullish, bearish) * 100 / total
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// priceWindow returns [start, end] widened to at least the configured lookback
func (b *base) priceWindow(state *contracts.RunState) (string, string, error) {
	end, err := contracts.ParseDate(state.EndDate)
	if err != nil {
		return "", "", err
	}
	start := end.AddDate(0, 0, -b.cfg.PriceLookbackDays)
	if s, err := contracts.ParseDate(state.StartDate); err == nil && s.Before(start) {
		start = s
	}
	return start.Format(time.DateOnly), state.EndDate, nil
}

func closes(prices []contracts.Price) []float64 {
	out := make([]float64, len(prices))
	for i, p := range prices {
		out[i] = p.Close
	}
	return out
}

func value(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}
