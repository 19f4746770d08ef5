package yahoo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/logger"
)

func day(s string) int64 {
	t, _ := time.Parse("2006-01-02", s)
	return t.Unix()
}

func newTestClient(fetch fetchFunc, ping pingFunc) *Client {
	c := New(provider.NewPool(2), logger.Nop())
	c.fetch = fetch
	c.ping = ping
	return c
}

func TestSymbol(t *testing.T) {
	tests := map[string]string{
		"aapl":      "AAPL",
		"600519":    "600519.SS",
		"000001":    "000001.SZ",
		"300750.SZ": "300750.SZ",
		"830799":    "830799.BJ",
	}
	for in, want := range tests {
		assert.Equal(t, want, Symbol(in), in)
	}
}

func TestGetPrices(t *testing.T) {
	d := decimal.NewFromFloat
	c := newTestClient(func(symbol string, start, end time.Time) ([]bar, error) {
		assert.Equal(t, "AAPL", symbol)
		assert.Equal(t, "2024-01-06", end.Format("2006-01-02"), "end made inclusive")
		return []bar{
			{Timestamp: day("2024-01-02"), Open: d(187.15), High: d(188.44), Low: d(183.89), Close: d(185.64), Volume: 82488700},
			{Timestamp: day("2024-01-03"), Open: d(184.22), High: d(185.88), Low: d(183.43), Close: d(184.25), Volume: 58414500},
			{Timestamp: day("2024-01-04"), Open: d(182.15), High: d(180.0), Low: d(181.5), Close: d(181.91), Volume: 1},
		}, nil
	}, nil)

	resp, err := c.GetPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	require.Len(t, resp.Data, 2, "broken bar dropped")
	assert.Equal(t, "2024-01-02", resp.Data[0].Time)
	assert.InDelta(t, 185.64, resp.Data[0].Close, 1e-9)
	assert.Equal(t, int64(82488700), resp.Data[0].Volume)
	assert.Equal(t, Name, resp.Source)
}

func TestGetPrices_SDKErrorIsTransient(t *testing.T) {
	c := newTestClient(func(string, time.Time, time.Time) ([]bar, error) {
		return nil, errors.New("remote error")
	}, nil)

	_, err := c.GetPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, contracts.ErrTransientAPI)
}

func TestGetPrices_CancelledWhileSDKBlocks(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := newTestClient(func(string, time.Time, time.Time) ([]bar, error) {
		<-release
		return nil, nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetPrices(ctx, "AAPL", "2024-01-01", "2024-01-05")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsupportedOperations(t *testing.T) {
	c := newTestClient(nil, nil)
	ctx := context.Background()

	_, err := c.GetFinancialMetrics(ctx, "AAPL", "2024-01-01", contracts.PeriodTTM, 1)
	assert.ErrorIs(t, err, contracts.ErrUnsupported)
	_, err = c.GetLineItems(ctx, "AAPL", nil, "2024-01-01", contracts.PeriodTTM, 1)
	assert.ErrorIs(t, err, contracts.ErrUnsupported)
	_, err = c.GetCompanyNews(ctx, "AAPL", "2024-01-01", "2024-01-05", 1)
	assert.ErrorIs(t, err, contracts.ErrUnsupported)
}

func TestHealthCheck(t *testing.T) {
	assert.True(t, newTestClient(nil, func(string) error { return nil }).HealthCheck(context.Background()))
	assert.False(t, newTestClient(nil, func(string) error { return errors.New("down") }).HealthCheck(context.Background()))
}
