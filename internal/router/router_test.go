package router

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/cache"
	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/external/mock"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/logger"
)

// fakeProvider embeds the mock and overrides prices behavior
type fakeProvider struct {
	*mock.Provider
	name     string
	healthy  atomic.Bool
	probes   atomic.Int32
	calls    atomic.Int32
	delay    time.Duration
	pricesFn func() ([]contracts.Price, error)
}

func newFake(name string, priority int, pricesFn func() ([]contracts.Price, error)) *fakeProvider {
	f := &fakeProvider{Provider: mock.New().WithPriority(priority), name: name, pricesFn: pricesFn}
	f.healthy.Store(true)
	return f
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) HealthCheck(context.Context) bool {
	f.probes.Add(1)
	return f.healthy.Load()
}

func (f *fakeProvider) GetPrices(ctx context.Context, ticker, start, end string) (provider.Response[[]contracts.Price], error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return provider.Response[[]contracts.Price]{}, ctx.Err()
		}
	}
	if f.pricesFn == nil {
		resp, err := f.Provider.GetPrices(ctx, ticker, start, end)
		resp.Source = f.name
		return resp, err
	}
	data, err := f.pricesFn()
	return provider.Response[[]contracts.Price]{Data: data, Source: f.name}, err
}

func transient() ([]contracts.Price, error) {
	return nil, contracts.NewProviderError("primary", provider.OpPrices, contracts.ErrTransientAPI, errors.New("502 bad gateway"))
}

func fastRetry() provider.RetryPolicy {
	return provider.RetryPolicy{MaxRetries: 1, Base: time.Millisecond, MaxBackoff: time.Millisecond}
}

type recordingSink struct {
	mu      sync.Mutex
	sources []string
}

func (s *recordingSink) ExportPrices(_ context.Context, _, _ string, _ []contracts.Price, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, source)
}

func (s *recordingSink) ExportFinancials(context.Context, string, string, []contracts.FinancialMetrics, []contracts.LineItem, string) {
}

func newTestRouter(t *testing.T, log *logger.Logger, providers ...provider.Provider) *Router {
	t.Helper()
	c, err := cache.NewTiered(16, nil, log)
	require.NoError(t, err)
	return New(providers, c, log, WithRetryPolicy(fastRetry()))
}

func TestRouter_FailsOverToSecondary(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "warn")

	primary := newFake("primary", 1, transient)
	secondary := newFake("secondary", 100, nil)
	sink := &recordingSink{}
	r := newTestRouter(t, log, secondary, primary)
	r.snapshots = sink

	resp, err := r.GetPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, "secondary", resp.Source)
	assert.Len(t, resp.Data, 23)
	assert.Equal(t, int32(2), primary.calls.Load(), "one retry on transient")
	assert.Equal(t, []string{"secondary"}, sink.sources)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Provider call failed, trying next")))
}

func TestRouter_CacheHit(t *testing.T) {
	p := newFake("only", 1, nil)
	r := newTestRouter(t, logger.Nop(), p)
	ctx := context.Background()

	first, err := r.GetPrices(ctx, "AAPL", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	second, err := r.GetPrices(ctx, "AAPL", "2024-01-01", "2024-01-31")
	require.NoError(t, err)

	assert.Equal(t, "only", first.Source)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestRouter_SingleFlight(t *testing.T) {
	p := newFake("slow", 1, nil)
	p.delay = 50 * time.Millisecond
	r := newTestRouter(t, logger.Nop(), p)

	var wg sync.WaitGroup
	results := make([]provider.Response[[]contracts.Price], 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := r.GetPrices(context.Background(), "MSFT", "2024-01-01", "2024-01-31")
			assert.NoError(t, err)
			results[i] = resp
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for _, res := range results {
		assert.Equal(t, results[0].Data, res.Data)
	}
}

func TestRouter_SkipsUnhealthy(t *testing.T) {
	down := newFake("down", 1, nil)
	down.healthy.Store(false)
	up := newFake("up", 2, nil)
	r := newTestRouter(t, logger.Nop(), down, up)

	resp, err := r.GetPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, "up", resp.Source)
	assert.Zero(t, down.calls.Load())

	_, err = r.GetPrices(context.Background(), "AAPL", "2024-02-01", "2024-02-05")
	require.NoError(t, err)
	assert.Equal(t, int32(1), down.probes.Load(), "probe cached for the interval")
}

func TestRouter_AllUnhealthyRechecksOnce(t *testing.T) {
	a := newFake("a", 1, nil)
	a.healthy.Store(false)
	b := newFake("b", 2, nil)
	b.healthy.Store(false)
	r := newTestRouter(t, logger.Nop(), a, b)

	_, err := r.GetPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, contracts.ErrNoProviderAvailable)
	assert.Equal(t, int32(2), a.probes.Load())
	assert.Equal(t, int32(2), b.probes.Load())
}

func TestRouter_AllFailReturnsLastError(t *testing.T) {
	a := newFake("a", 1, transient)
	b := newFake("b", 2, func() ([]contracts.Price, error) {
		return nil, contracts.NewProviderError("b", provider.OpPrices, contracts.ErrUnsupported, errors.New("b does not serve prices"))
	})
	r := newTestRouter(t, logger.Nop(), a, b)

	_, err := r.GetPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrNoProviderAvailable)
	assert.ErrorIs(t, err, contracts.ErrUnsupported)
	assert.Contains(t, err.Error(), "b does not serve prices")
}

func TestRouter_InvalidBatchFallsThrough(t *testing.T) {
	broken := newFake("broken", 1, func() ([]contracts.Price, error) {
		return []contracts.Price{{Time: "2024-01-02", Open: 10, High: 5, Low: 4, Close: 10}}, nil
	})
	good := newFake("good", 2, nil)
	r := newTestRouter(t, logger.Nop(), broken, good)

	resp, err := r.GetPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Source)
	for _, p := range resp.Data {
		assert.NoError(t, p.Validate())
	}
}

func TestRouter_EmptyEverywhereIsEmptyNotError(t *testing.T) {
	r := newTestRouter(t, logger.Nop(), newFake("a", 1, nil))

	resp, err := r.GetPrices(context.Background(), "AAPL", "2024-01-06", "2024-01-07")
	require.NoError(t, err, "a weekend has no bars")
	assert.Empty(t, resp.Data)
}

func TestRouter_Cancelled(t *testing.T) {
	p := newFake("slow", 1, nil)
	p.delay = time.Second
	r := newTestRouter(t, logger.Nop(), p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.GetPrices(ctx, "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRouter_MetricsUseMockFallback(t *testing.T) {
	r := newTestRouter(t, logger.Nop(), mock.New())

	resp, err := r.GetFinancialMetrics(context.Background(), "600519", "2024-06-30", contracts.PeriodTTM, 3)
	require.NoError(t, err)
	assert.Len(t, resp.Data, 3)
	assert.Equal(t, mock.Name, resp.Source)

	news, err := r.GetCompanyNews(context.Background(), "600519", "2024-01-01", "2024-03-31", 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(news.Data), 5)

	price, ok, err := r.LatestClose(context.Background(), "600519", "2024-06-28")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, price, 0.0)
}

func TestRouter_ProviderStatus(t *testing.T) {
	down := newFake("down", 1, nil)
	down.healthy.Store(false)
	r := newTestRouter(t, logger.Nop(), newFake("up", 2, nil), down)

	status := r.ProviderStatus(context.Background(), true)
	require.Len(t, status, 2)
	assert.Equal(t, "down", status[0].Name)
	assert.False(t, status[0].Healthy)
	assert.True(t, status[0].Checked)
	assert.True(t, status[1].Healthy)
}

// untitledNews serves headlines some of which lack a title
type untitledNews struct {
	*fakeProvider
}

func (u untitledNews) GetCompanyNews(context.Context, string, string, string, int) (provider.Response[[]contracts.CompanyNews], error) {
	return provider.Response[[]contracts.CompanyNews]{
		Source: u.name,
		Data: []contracts.CompanyNews{
			{Ticker: "AAPL", Title: "", Date: "2024-03-01"},
			{Ticker: "AAPL", Title: "Guidance raised", Date: "2024-02-28"},
			{Ticker: "AAPL", Title: "  ", Date: "2024-02-27"},
		},
	}, nil
}

func TestRouter_NewsDropsUntitledHeadlines(t *testing.T) {
	r := newTestRouter(t, logger.Nop(), untitledNews{newFake("wire", 1, nil)})

	resp, err := r.GetCompanyNews(context.Background(), "AAPL", "2024-01-01", "2024-03-31", 10)
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Guidance raised", resp.Data[0].Title)
}
