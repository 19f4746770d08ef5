package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Name is the source tag of this adapter
const Name = "warehouse"

// querier is the subset of *pgxpool.Pool the warehouse uses
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
}

// Warehouse serves previously persisted data from Postgres and persists fresh upstream data
// ⭐ SSOT: data.* tables are read and written only here
type Warehouse struct {
	db     querier
	logger *logger.Logger
}

// New creates a warehouse over a pgx pool
func New(db querier, log *logger.Logger) *Warehouse {
	return &Warehouse{db: db, logger: log.WithField("provider", Name)}
}

// Name returns the source tag
func (w *Warehouse) Name() string { return Name }

// Priority ranks the warehouse after live sources
func (w *Warehouse) Priority() int { return 5 }

// RateLimitInfo is unbounded for a local database
func (w *Warehouse) RateLimitInfo() provider.RateLimitInfo { return provider.RateLimitInfo{} }

// HealthCheck pings the pool
func (w *Warehouse) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return w.db.Ping(ctx) == nil
}

// GetPrices reads stored bars within the range, oldest first
func (w *Warehouse) GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error) {
	started := time.Now()
	var out provider.Response[[]contracts.Price]

	query := `
		SELECT trade_date, open, high, low, close, volume
		FROM data.daily_prices
		WHERE ticker = $1 AND trade_date BETWEEN $2::date AND $3::date
		ORDER BY trade_date ASC
	`
	rows, err := w.db.Query(ctx, query, ticker, startDate, endDate)
	if err != nil {
		return out, provider.Classify(Name, provider.OpPrices, err)
	}
	defer rows.Close()

	prices := []contracts.Price{}
	for rows.Next() {
		var (
			p    contracts.Price
			date time.Time
		)
		if err := rows.Scan(&date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume); err != nil {
			return out, provider.Invalid(Name, provider.OpPrices, err)
		}
		p.Time = date.Format(contracts.DateLayout)
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return out, provider.Classify(Name, provider.OpPrices, err)
	}
	return provider.NewResponse(prices, Name, started), nil
}

// GetFinancialMetrics reads stored metric rows, newest first
func (w *Warehouse) GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.FinancialMetrics], error) {
	started := time.Now()
	var out provider.Response[[]contracts.FinancialMetrics]

	query := `
		SELECT metrics
		FROM data.fundamentals
		WHERE ticker = $1 AND period = $2 AND report_period <= $3::date
		ORDER BY report_period DESC
		LIMIT $4
	`
	rows, err := w.db.Query(ctx, query, ticker, string(period), endDate, limitOrDefault(limit))
	if err != nil {
		return out, provider.Classify(Name, provider.OpMetrics, err)
	}
	metrics, err := scanJSON[contracts.FinancialMetrics](rows)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpMetrics, err)
	}
	return provider.NewResponse(metrics, Name, started), nil
}

// GetLineItems reads stored line items, newest first
func (w *Warehouse) GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.LineItem], error) {
	started := time.Now()
	var out provider.Response[[]contracts.LineItem]

	query := `
		SELECT items
		FROM data.line_items
		WHERE ticker = $1 AND period = $2 AND report_period <= $3::date
		ORDER BY report_period DESC
		LIMIT $4
	`
	rows, err := w.db.Query(ctx, query, ticker, string(period), endDate, limitOrDefault(limit))
	if err != nil {
		return out, provider.Classify(Name, provider.OpLineItems, err)
	}
	lineItems, err := scanJSON[contracts.LineItem](rows)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpLineItems, err)
	}
	return provider.NewResponse(lineItems, Name, started), nil
}

// GetCompanyNews reads stored headlines, newest first
func (w *Warehouse) GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (provider.Response[[]contracts.CompanyNews], error) {
	started := time.Now()
	var out provider.Response[[]contracts.CompanyNews]

	query := `
		SELECT title, published, COALESCE(author, ''), COALESCE(source, ''), COALESCE(url, ''), COALESCE(sentiment, '')
		FROM data.news
		WHERE ticker = $1 AND published BETWEEN $2::date AND $3::date
		ORDER BY published DESC
		LIMIT $4
	`
	rows, err := w.db.Query(ctx, query, ticker, startDate, endDate, limitOrDefault(limit))
	if err != nil {
		return out, provider.Classify(Name, provider.OpNews, err)
	}
	defer rows.Close()

	news := []contracts.CompanyNews{}
	for rows.Next() {
		var (
			n         contracts.CompanyNews
			published time.Time
			sentiment string
		)
		if err := rows.Scan(&n.Title, &published, &n.Author, &n.Source, &n.URL, &sentiment); err != nil {
			return out, provider.Invalid(Name, provider.OpNews, err)
		}
		n.Ticker = ticker
		n.Date = published.Format(contracts.DateLayout)
		n.Sentiment = contracts.Sentiment(sentiment)
		news = append(news, n)
	}
	if err := rows.Err(); err != nil {
		return out, provider.Classify(Name, provider.OpNews, err)
	}
	return provider.NewResponse(news, Name, started), nil
}

func scanJSON[T any](rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}
