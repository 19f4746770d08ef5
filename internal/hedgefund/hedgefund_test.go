package hedgefund

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/analysts"
	"github.com/wonny/hedgefund/internal/cache"
	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/external/mock"
	"github.com/wonny/hedgefund/internal/graph"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		AnalystTimeout: 10 * time.Second,
		Router:         config.RouterConfig{CacheSize: 64, HealthCheckInterval: time.Minute, Workers: 2},
		Snapshot:       config.SnapshotConfig{Path: "data/snapshots", Mode: "sync"},
	}
}

func fastRetry() provider.RetryPolicy {
	return provider.RetryPolicy{MaxRetries: 1, Base: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newServices(t *testing.T, log *logger.Logger, ps ...provider.Provider) *Services {
	t.Helper()
	if len(ps) == 0 {
		ps = []provider.Provider{mock.New()}
	}
	c, err := cache.NewTiered(64, nil, log)
	require.NoError(t, err)

	s, err := NewServices(context.Background(), testConfig(), log,
		WithProviders(ps...), WithCache(c), WithRetryPolicy(fastRetry()))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func request(tickers ...string) Request {
	return Request{
		Tickers:   tickers,
		StartDate: "2024-01-02",
		EndDate:   "2024-06-28",
		Portfolio: contracts.NewPortfolio(100000, 0.5, tickers),
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"no tickers", func(r *Request) { r.Tickers = []string{" ", ""} }},
		{"bad start", func(r *Request) { r.StartDate = "2024/01/02" }},
		{"bad end", func(r *Request) { r.EndDate = "" }},
		{"end before start", func(r *Request) { r.StartDate, r.EndDate = "2024-06-28", "2024-01-02" }},
		{"negative cash", func(r *Request) { r.Portfolio.Cash = -1 }},
		{"margin above one", func(r *Request) { r.Portfolio.MarginRequirement = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("AAPL")
			tt.mutate(&req)
			req.Normalize()
			assert.ErrorIs(t, req.Validate(), contracts.ErrPrecondition)
		})
	}

	req := request(" AAPL", "AAPL", "600519 ")
	req.Normalize()
	assert.Equal(t, []string{"AAPL", "600519"}, req.Tickers)
	assert.NoError(t, req.Validate())
}

func TestDefaultDates(t *testing.T) {
	start, end := DefaultDates(time.Date(2024, 6, 28, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-03-28", start)
	assert.Equal(t, "2024-06-28", end)
}

func TestRun_AllAnalystsOnMockData(t *testing.T) {
	s := newServices(t, logger.Nop())

	res, err := s.Run(context.Background(), request("AAPL", "600519"), nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	require.Len(t, res.Decisions, 2)
	assert.Len(t, res.AnalystSignals, len(s.Registry.IDs()))
	for id, byTicker := range res.AnalystSignals {
		assert.Len(t, byTicker, 2, id)
	}

	for ticker, d := range res.Decisions {
		require.NoError(t, d.Validate(), ticker)
		a := res.RiskAssessments[ticker]
		if d.Action == contracts.ActionBuy {
			assert.LessOrEqual(t, float64(d.Quantity)*a.CurrentPrice, a.RemainingPositionLimit+1e-6, ticker)
		}
	}
	assert.Empty(t, res.Trades)
	assert.Equal(t, 100000.0, res.Portfolio.Cash)
}

type failingPrimary struct {
	*mock.Provider
}

func (failingPrimary) Name() string  { return "primary" }
func (failingPrimary) Priority() int { return 1 }

func (failingPrimary) GetPrices(context.Context, string, string, string) (provider.Response[[]contracts.Price], error) {
	return provider.Response[[]contracts.Price]{}, contracts.NewProviderError("primary", provider.OpPrices, contracts.ErrTransientAPI, errors.New("503"))
}

func TestRun_FailsOverToSecondaryProvider(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "warn")
	s := newServices(t, log, failingPrimary{Provider: mock.New()}, mock.New())

	resp, err := s.Router.GetPrices(context.Background(), "600519", "2024-05-01", "2024-05-31")
	require.NoError(t, err)
	assert.Equal(t, mock.Name, resp.Source)
	assert.NotEmpty(t, resp.Data)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Provider call failed, trying next")))

	req := request("600519")
	req.SelectedAnalysts = []string{analysts.TechnicalID, analysts.MomentumID}
	res, err := s.Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.Contains(t, res.Decisions, "600519")
	assert.NoError(t, res.Decisions["600519"].Validate())
}

func TestRun_UnknownAnalyst(t *testing.T) {
	req := request("AAPL")
	req.SelectedAnalysts = []string{"oracle"}
	_, err := newServices(t, logger.Nop()).Run(context.Background(), req, nil)
	assert.ErrorIs(t, err, contracts.ErrPrecondition)
}

func TestRun_ApplyUpdatesPortfolio(t *testing.T) {
	s := newServices(t, logger.Nop())
	req := request("AAPL", "MSFT", "600519")
	req.Apply = true

	res, err := s.Run(context.Background(), req, nil)
	require.NoError(t, err)

	for _, trade := range res.Trades {
		d := res.Decisions[trade.Ticker]
		assert.Equal(t, d.Action, trade.Action)
		assert.LessOrEqual(t, trade.Executed, d.Quantity)
	}
	assert.GreaterOrEqual(t, res.Portfolio.Cash, 0.0)
	assert.NoError(t, res.Portfolio.Validate())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newServices(t, logger.Nop()).Run(ctx, request("AAPL"), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRun_ProgressEvents(t *testing.T) {
	s := newServices(t, logger.Nop())
	events := make(chan graph.Event, 64)

	req := request("AAPL")
	req.SelectedAnalysts = []string{analysts.SentimentID}
	_, err := s.Run(context.Background(), req, graph.SinkFunc(func(e graph.Event) { events <- e }))
	require.NoError(t, err)
	close(events)

	var nodes []string
	for e := range events {
		if e.Kind == graph.NodeFinished {
			nodes = append(nodes, e.Node)
		}
	}
	assert.Equal(t, []string{graph.StartNode, analysts.SentimentID, "risk_management_agent", "portfolio_manager", graph.EndNode}, nodes)
}
