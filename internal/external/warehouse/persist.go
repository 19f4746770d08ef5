package warehouse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/hedgefund/internal/contracts"
)

// SavePrices upserts bars in one batch
func (w *Warehouse) SavePrices(ctx context.Context, ticker string, prices []contracts.Price) error {
	if len(prices) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.daily_prices (ticker, trade_date, open, high, low, close, volume)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7)
		ON CONFLICT (ticker, trade_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`
	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(query, ticker, p.Time, p.Open, p.High, p.Low, p.Close, p.Volume)
	}
	return w.sendBatch(ctx, batch, "prices")
}

// SaveFinancialMetrics upserts metric rows as JSONB
func (w *Warehouse) SaveFinancialMetrics(ctx context.Context, ticker string, metrics []contracts.FinancialMetrics) error {
	if len(metrics) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.fundamentals (ticker, report_period, period, currency, metrics)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (ticker, report_period, period) DO UPDATE SET
			currency = EXCLUDED.currency,
			metrics = EXCLUDED.metrics
	`
	batch := &pgx.Batch{}
	for _, m := range metrics {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal metrics %s: %w", m.ReportPeriod, err)
		}
		batch.Queue(query, ticker, m.ReportPeriod, string(m.Period), m.Currency, payload)
	}
	return w.sendBatch(ctx, batch, "fundamentals")
}

// SaveLineItems upserts line item rows as JSONB
func (w *Warehouse) SaveLineItems(ctx context.Context, ticker string, items []contracts.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.line_items (ticker, report_period, period, currency, items)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (ticker, report_period, period) DO UPDATE SET
			currency = EXCLUDED.currency,
			items = EXCLUDED.items
	`
	batch := &pgx.Batch{}
	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal line items %s: %w", item.ReportPeriod, err)
		}
		batch.Queue(query, ticker, item.ReportPeriod, string(item.Period), item.Currency, payload)
	}
	return w.sendBatch(ctx, batch, "line_items")
}

// SaveCompanyNews inserts headlines, keeping the first copy of a title
func (w *Warehouse) SaveCompanyNews(ctx context.Context, ticker string, news []contracts.CompanyNews) error {
	if len(news) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.news (ticker, title, published, author, source, url, sentiment)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7)
		ON CONFLICT (ticker, title) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, n := range news {
		batch.Queue(query, ticker, n.Title, n.Date, n.Author, n.Source, n.URL, string(n.Sentiment))
	}
	return w.sendBatch(ctx, batch, "news")
}

func (w *Warehouse) sendBatch(ctx context.Context, batch *pgx.Batch, table string) error {
	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert %s row %d: %w", table, i, err)
		}
	}

	w.logger.WithFields(map[string]interface{}{
		"table": table,
		"rows":  batch.Len(),
	}).Debug("Persisted rows")
	return nil
}
