package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/hedgefund"
	"github.com/wonny/hedgefund/internal/portfolio"
	"github.com/wonny/hedgefund/internal/router"
	"github.com/wonny/hedgefund/internal/snapshot"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"precondition", fmt.Errorf("%w: no tickers", contracts.ErrPrecondition), 1},
		{"validation", contracts.ErrValidation, 1},
		{"risk gate", fmt.Errorf("run: %w", contracts.ErrRiskGateFailure), 2},
		{"portfolio manager", contracts.ErrPortfolioManagerFailure, 2},
		{"cancelled", context.Canceled, 2},
		{"config", errors.New("load config: bad"), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"600519", "000001"}, splitCSV(" 600519, ,000001,"))
	assert.Nil(t, splitCSV(""))
}

func TestRunOptions_Request(t *testing.T) {
	now := time.Date(2024, 6, 28, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		opts      runOptions
		wantStart string
		wantEnd   string
	}{
		{"defaults", runOptions{tickers: "AAPL"}, "2024-03-28", "2024-06-28"},
		{"end only", runOptions{tickers: "AAPL", endDate: "2024-05-31"}, "2024-03-02", "2024-05-31"},
		{"explicit", runOptions{tickers: "AAPL", startDate: "2024-01-02", endDate: "2024-02-01"}, "2024-01-02", "2024-02-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.opts.request(now)
			assert.Equal(t, tt.wantStart, req.StartDate)
			assert.Equal(t, tt.wantEnd, req.EndDate)
		})
	}

	req := runOptions{
		tickers:           "AAPL,MSFT",
		initialCash:       5000,
		marginRequirement: 0.5,
		selectedAnalysts:  "technical_analyst, valuation_analyst",
		apply:             true,
	}.request(now)
	assert.Equal(t, []string{"AAPL", "MSFT"}, req.Tickers)
	assert.Equal(t, []string{"technical_analyst", "valuation_analyst"}, req.SelectedAnalysts)
	assert.InDelta(t, 5000, req.Portfolio.Cash, 1e-9)
	assert.Contains(t, req.Portfolio.Positions, "MSFT")
	assert.True(t, req.Apply)
	require.NoError(t, req.Validate())

	bad := runOptions{tickers: "AAPL", endDate: "yesterday"}.request(now)
	assert.ErrorIs(t, bad.Validate(), contracts.ErrPrecondition)
}

func TestPrintResult(t *testing.T) {
	res := &hedgefund.Result{
		RunID: "run-42",
		Decisions: map[string]contracts.Decision{
			"AAPL": {Ticker: "AAPL", Action: contracts.ActionBuy, Quantity: 25, Confidence: 80, Reasoning: "看多 2 票"},
			"MSFT": contracts.HoldDecision("MSFT", 40, "mixed"),
		},
		AnalystSignals: map[string]map[string]contracts.Signal{
			"AAPL": {"technical_analyst": {Ticker: "AAPL", AnalystID: "technical_analyst", Signal: contracts.Bullish, Confidence: 70}},
		},
		RiskAssessments: map[string]contracts.RiskAssessment{
			"AAPL": {Ticker: "AAPL", CurrentPrice: 100, RemainingPositionLimit: 2500},
		},
		Trades:   []portfolio.Trade{{Ticker: "AAPL", Action: contracts.ActionBuy, Requested: 25, Executed: 25, Price: 100}},
		Duration: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	printResult(&buf, res, true)
	out := buf.String()

	for _, want := range []string{"run-42", "AAPL", "BUY", "25", "80%", "2500", "MSFT", "HOLD", "technical_analyst", "bullish", "看多 2 票", "Executed trades"} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("AAPL")), bytes.Index(buf.Bytes(), []byte("MSFT")))
}

func TestPrintProvidersAndSnapshots(t *testing.T) {
	var buf bytes.Buffer
	printProviders(&buf, []router.ProviderStatus{
		{Name: "eastmoney", Priority: 1, Checked: true},
		{Name: "mock", Priority: 99, Checked: true, Healthy: true},
		{Name: "sina", Priority: 3},
	})
	out := buf.String()
	assert.Contains(t, out, "eastmoney")
	assert.Contains(t, out, "unhealthy")
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "unchecked")

	buf.Reset()
	printSnapshots(&buf, nil)
	assert.Contains(t, buf.String(), "no snapshots")

	buf.Reset()
	printSnapshots(&buf, []snapshot.IndexEntry{{Ticker: "AAPL", Date: "2024-01-02", DataSource: "mock", SnapshotPath: "AAPL/2024-01-02"}})
	assert.Contains(t, buf.String(), "AAPL/2024-01-02")
}

func TestBacktestConfig(t *testing.T) {
	now := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	cfg, err := backtestConfig(runOptions{tickers: "AAPL", startDate: "2024-01-02", initialCash: 1000}, now)
	require.NoError(t, err)
	assert.Equal(t, now, cfg.EndDate)
	assert.Equal(t, []string{"AAPL"}, cfg.Tickers)

	_, err = backtestConfig(runOptions{tickers: "AAPL"}, now)
	assert.ErrorIs(t, err, contracts.ErrPrecondition)

	_, err = backtestConfig(runOptions{tickers: "AAPL", startDate: "2024-01-02", endDate: "June"}, now)
	assert.ErrorIs(t, err, contracts.ErrPrecondition)
}
