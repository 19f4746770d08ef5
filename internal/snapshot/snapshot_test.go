package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/config"
	"github.com/wonny/hedgefund/pkg/logger"
)

func samplePrices() []contracts.Price {
	return []contracts.Price{
		{Time: "2024-01-02", Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 1000},
		{Time: "2024-01-03", Open: 10.5, High: 11.2, Low: 10.1, Close: 11, Volume: 1200},
	}
}

func sampleMetrics() []contracts.FinancialMetrics {
	return []contracts.FinancialMetrics{
		{Ticker: "600519", ReportPeriod: "2023-12-31", Period: contracts.PeriodTTM, ReturnOnEquity: contracts.Float(0.31), PriceToEarningsRatio: contracts.Float(28.5)},
	}
}

func sampleLineItems() []contracts.LineItem {
	return []contracts.LineItem{
		{Ticker: "600519", ReportPeriod: "2023-12-31", Period: contracts.PeriodTTM, Revenue: contracts.Float(1.5e11)},
	}
}

func newTestWriter(t *testing.T, mode Mode) *Writer {
	t.Helper()
	w := NewWriter(t.TempDir(), mode, logger.Nop())
	t.Cleanup(w.Close)
	return w
}

func TestWritePrices_Layout(t *testing.T) {
	w := newTestWriter(t, ModeSync)
	ctx := context.Background()

	written, err := w.WritePrices(ctx, "600519", "2024-01-03", samplePrices(), "eastmoney")
	require.NoError(t, err)
	assert.True(t, written)

	dir := filepath.Join(w.Root(), "600519", "2024-01-03")
	raw, err := os.ReadFile(filepath.Join(dir, pricesFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  {\n    \"time\": \"2024-01-02\"")

	var got []contracts.Price
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, samplePrices(), got)

	summary, err := os.ReadFile(filepath.Join(dir, summaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "# 600519 @ 2024-01-03")
	assert.Contains(t, string(summary), "| 2024-01-03 | 10.50 | 11.20 | 10.10 | 11.00 | 1200 |")

	entries, err := w.Index(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "600519", entries[0].Ticker)
	assert.Equal(t, "2024-01-03", entries[0].Date)
	assert.Equal(t, "600519/2024-01-03", entries[0].SnapshotPath)
	assert.Equal(t, "eastmoney", entries[0].DataSource)
}

func TestWritePrices_IdempotentByDateSet(t *testing.T) {
	w := newTestWriter(t, ModeSync)
	ctx := context.Background()

	_, err := w.WritePrices(ctx, "AAPL", "2024-01-03", samplePrices(), "yahoo")
	require.NoError(t, err)

	path := filepath.Join(w.Root(), "AAPL", "2024-01-03", pricesFile)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	// same dates, different values: unchanged key set means no rewrite
	changed := samplePrices()
	changed[0].Close = 99
	changed[0].High = 100
	written, err := w.WritePrices(ctx, "AAPL", "2024-01-03", changed, "yahoo")
	require.NoError(t, err)
	assert.False(t, written)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, old, info.ModTime(), time.Second)

	// a new date rewrites
	extended := append(samplePrices(), contracts.Price{Time: "2024-01-04", Open: 11, High: 12, Low: 10.8, Close: 11.5, Volume: 900})
	written, err = w.WritePrices(ctx, "AAPL", "2024-01-03", extended, "yahoo")
	require.NoError(t, err)
	assert.True(t, written)

	entries, err := w.Index(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "index upserts in place")
}

func TestWriteFinancials_MergesAndKeepsMissingPart(t *testing.T) {
	w := newTestWriter(t, ModeSync)
	ctx := context.Background()

	written, err := w.WriteFinancials(ctx, "600519", "2024-01-03", sampleMetrics(), nil, "tushare")
	require.NoError(t, err)
	assert.True(t, written)

	written, err = w.WriteFinancials(ctx, "600519", "2024-01-03", nil, sampleLineItems(), "tushare")
	require.NoError(t, err)
	assert.True(t, written)

	var fin Financials
	ok, err := readJSON(filepath.Join(w.Root(), "600519", "2024-01-03", financialsFile), &fin)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, fin.FinancialMetrics, 1)
	assert.Len(t, fin.LineItems, 1)

	written, err = w.WriteFinancials(ctx, "600519", "2024-01-03", sampleMetrics(), sampleLineItems(), "tushare")
	require.NoError(t, err)
	assert.False(t, written)

	summary, err := os.ReadFile(filepath.Join(w.Root(), "600519", "2024-01-03", summaryFile))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "| 2023-12-31 (ttm) | 28.50 | - | 31.0% |")
	assert.Contains(t, string(summary), "1500.00亿")
}

func TestWriteJSON_NoHTMLEscaping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "news.json")
	require.NoError(t, writeJSON(path, map[string]string{"title": "贵州茅台 <年报> & 分红"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "贵州茅台 <年报> & 分红")
}

func TestExport_ErrorsAreSwallowed(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(root, []byte("not a dir"), 0o644))

	w := NewWriter(root, ModeSync, logger.Nop())
	assert.NotPanics(t, func() {
		w.ExportPrices(context.Background(), "AAPL", "2024-01-03", samplePrices(), "yahoo")
	})

	_, err := w.WritePrices(context.Background(), "AAPL", "2024-01-03", samplePrices(), "yahoo")
	assert.ErrorIs(t, err, contracts.ErrSnapshotWrite)
}

func TestAsync_CloseFlushes(t *testing.T) {
	w := NewWriter(t.TempDir(), ModeAsync, logger.Nop())
	ctx := context.Background()

	tickers := []string{"AAPL", "MSFT", "600519", "000001"}
	for _, ticker := range tickers {
		w.ExportPrices(ctx, ticker, "2024-01-03", samplePrices(), "mock")
	}
	w.Close()
	w.Close()

	entries, err := w.Index(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, len(tickers))
}

func TestAsync_ExportAfterCloseIsDropped(t *testing.T) {
	w := NewWriter(t.TempDir(), ModeAsync, logger.Nop())
	ctx := context.Background()
	w.Close()

	assert.NotPanics(t, func() {
		w.ExportPrices(ctx, "AAPL", "2024-01-03", samplePrices(), "mock")
		w.ExportFinancials(ctx, "AAPL", "2024-01-03", sampleMetrics(), nil, "mock")
	})

	entries, err := w.Index(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAsync_ConcurrentExportAndClose(t *testing.T) {
	w := NewWriter(t.TempDir(), ModeAsync, logger.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				w.ExportPrices(ctx, "AAPL", "2024-01-03", samplePrices(), "mock")
			}
		}()
	}
	assert.NotPanics(t, w.Close)
	wg.Wait()
}

func TestIndex_ConcurrentWritersKeepEveryEntry(t *testing.T) {
	root := t.TempDir()
	a := NewWriter(root, ModeSync, logger.Nop())
	b := NewWriter(root, ModeSync, logger.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, ticker := range []string{"AAPL", "MSFT", "NVDA", "TSLA", "AMZN", "META"} {
		w := a
		if i%2 == 1 {
			w = b
		}
		wg.Add(1)
		go func(w *Writer, ticker string) {
			defer wg.Done()
			_, err := w.WritePrices(ctx, ticker, "2024-01-03", samplePrices(), "mock")
			assert.NoError(t, err)
		}(w, ticker)
	}
	wg.Wait()

	entries, err := a.Index(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}

func TestIndex_EmptyRoot(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "missing"), ModeSync, logger.Nop())
	entries, err := w.Index(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOptionsFrom_Defaults(t *testing.T) {
	opts := OptionsFrom(config.SnapshotConfig{Enabled: true})
	assert.Equal(t, "data/snapshots", opts.Path)
	assert.Equal(t, ModeSync, opts.Mode)

	opts = OptionsFrom(config.SnapshotConfig{Enabled: true, Path: "/tmp/x", Mode: "async"})
	assert.Equal(t, "/tmp/x", opts.Path)
	assert.Equal(t, ModeAsync, opts.Mode)
}

func TestSingleton(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg := &config.Config{Snapshot: config.SnapshotConfig{Enabled: false}}
	assert.Nil(t, Init(cfg, logger.Nop()))
	assert.Nil(t, Default())

	cfg.Snapshot = config.SnapshotConfig{Enabled: true, Path: t.TempDir(), Mode: "sync"}
	w := Init(cfg, logger.Nop())
	require.NotNil(t, w)
	assert.Same(t, w, Default())
	assert.Same(t, w, Init(cfg, logger.Nop()))

	Close()
	assert.Nil(t, Default())
}
