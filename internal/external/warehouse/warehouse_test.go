package warehouse

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/database"
	"github.com/wonny/hedgefund/pkg/logger"
)

// newTestWarehouse connects to WAREHOUSE_TEST_URL or skips
func newTestWarehouse(t *testing.T) *Warehouse {
	t.Helper()
	url := os.Getenv("WAREHOUSE_TEST_URL")
	if url == "" {
		t.Skip("WAREHOUSE_TEST_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, config.DatabaseConfig{URL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Pool.Exec(ctx, `DELETE FROM data.daily_prices WHERE ticker = 'TEST'`)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `DELETE FROM data.fundamentals WHERE ticker = 'TEST'`)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `DELETE FROM data.news WHERE ticker = 'TEST'`)
	require.NoError(t, err)

	return New(db.Pool, logger.Nop())
}

func TestWarehouse_PricesRoundTrip(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	prices := []contracts.Price{
		{Time: "2024-01-02", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000},
		{Time: "2024-01-03", Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 2000},
	}
	require.NoError(t, w.SavePrices(ctx, "TEST", prices))
	require.NoError(t, w.SavePrices(ctx, "TEST", prices), "upsert is idempotent")

	resp, err := w.GetPrices(ctx, "TEST", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, prices, resp.Data)
	assert.Equal(t, Name, resp.Source)
	assert.True(t, w.HealthCheck(ctx))
}

func TestWarehouse_MetricsNewestFirst(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	metrics := []contracts.FinancialMetrics{
		{Ticker: "TEST", ReportPeriod: "2023-12-31", Period: contracts.PeriodTTM, Currency: "USD", ReturnOnEquity: contracts.Float(0.2)},
		{Ticker: "TEST", ReportPeriod: "2024-03-31", Period: contracts.PeriodTTM, Currency: "USD", ReturnOnEquity: contracts.Float(0.25)},
	}
	require.NoError(t, w.SaveFinancialMetrics(ctx, "TEST", metrics))

	resp, err := w.GetFinancialMetrics(ctx, "TEST", "2024-06-30", contracts.PeriodTTM, 1)
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "2024-03-31", resp.Data[0].ReportPeriod)
	assert.InDelta(t, 0.25, *resp.Data[0].ReturnOnEquity, 1e-9)
}

func TestWarehouse_NewsDedupByTitle(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	news := []contracts.CompanyNews{
		{Ticker: "TEST", Title: "Earnings beat", Date: "2024-01-05", Sentiment: contracts.SentimentPositive},
		{Ticker: "TEST", Title: "Earnings beat", Date: "2024-01-06"},
	}
	require.NoError(t, w.SaveCompanyNews(ctx, "TEST", news))

	resp, err := w.GetCompanyNews(ctx, "TEST", "2024-01-01", "2024-01-31", 10)
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "2024-01-05", resp.Data[0].Date)
	assert.Equal(t, contracts.SentimentPositive, resp.Data[0].Sentiment)
}

func TestLimitOrDefault(t *testing.T) {
	assert.Equal(t, 10, limitOrDefault(0))
	assert.Equal(t, 3, limitOrDefault(3))
}
