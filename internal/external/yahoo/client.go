package yahoo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Name is the source tag of this adapter
const Name = "yahoo"

// bar is the subset of a chart bar this adapter keeps
type bar struct {
	Timestamp              int64
	Open, High, Low, Close decimal.Decimal
	Volume                 int64
}

// fetchFunc loads daily bars for a Yahoo symbol
type fetchFunc func(symbol string, start, end time.Time) ([]bar, error)

// pingFunc reports whether a reference quote resolves
type pingFunc func(symbol string) error

// Client wraps the synchronous finance-go SDK.
// Every SDK call runs on the shared worker pool so a hung request never blocks the caller past ctx.
type Client struct {
	pool   *provider.Pool
	logger *logger.Logger
	fetch  fetchFunc
	ping   pingFunc
}

// New creates a new Yahoo client using the shared pool
func New(pool *provider.Pool, log *logger.Logger) *Client {
	return &Client{
		pool:   pool,
		logger: log.WithField("provider", Name),
		fetch:  fetchChart,
		ping:   pingQuote,
	}
}

// Name returns the source tag
func (c *Client) Name() string { return Name }

// Priority ranks Yahoo third
func (c *Client) Priority() int { return 3 }

// RateLimitInfo reports Yahoo's unpublished limits as unknown
func (c *Client) RateLimitInfo() provider.RateLimitInfo { return provider.RateLimitInfo{} }

// HealthCheck resolves a SPY quote
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := provider.Submit(ctx, c.pool, func() (struct{}, error) {
		return struct{}{}, c.ping("SPY")
	})
	if err != nil {
		c.logger.WithError(err).Debug("Health check failed")
		return false
	}
	return true
}

// GetPrices loads daily bars through the chart API
func (c *Client) GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error) {
	started := time.Now()
	var out provider.Response[[]contracts.Price]

	start, err := contracts.ParseDate(startDate)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpPrices, err)
	}
	end, err := contracts.ParseDate(endDate)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpPrices, err)
	}
	// chart end is exclusive
	end = end.AddDate(0, 0, 1)

	symbol := Symbol(ticker)
	bars, err := provider.Submit(ctx, c.pool, func() ([]bar, error) {
		return c.fetch(symbol, start, end)
	})
	if err != nil {
		return out, provider.Classify(Name, provider.OpPrices, err)
	}

	prices := toPrices(bars, startDate, endDate)
	c.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"symbol": symbol,
		"count":  len(prices),
	}).Debug("Fetched prices")

	return provider.NewResponse(prices, Name, started), nil
}

// GetFinancialMetrics is not served by this adapter
func (c *Client) GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.FinancialMetrics], error) {
	return provider.Response[[]contracts.FinancialMetrics]{}, provider.Unsupported(Name, provider.OpMetrics)
}

// GetLineItems is not served by this adapter
func (c *Client) GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.LineItem], error) {
	return provider.Response[[]contracts.LineItem]{}, provider.Unsupported(Name, provider.OpLineItems)
}

// GetCompanyNews is not served by this adapter
func (c *Client) GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (provider.Response[[]contracts.CompanyNews], error) {
	return provider.Response[[]contracts.CompanyNews]{}, provider.Unsupported(Name, provider.OpNews)
}

// Symbol maps a ticker to Yahoo's notation: 600519 -> 600519.SS, 000001 -> 000001.SZ
func Symbol(ticker string) string {
	if contracts.MarketOf(ticker) != contracts.MarketCN {
		return strings.ToUpper(ticker)
	}
	code := contracts.BareCode(ticker)
	switch contracts.ExchangeOf(ticker) {
	case "SH":
		return code + ".SS"
	case "BJ":
		return code + ".BJ"
	default:
		return code + ".SZ"
	}
}

func toPrices(bars []bar, startDate, endDate string) []contracts.Price {
	prices := make([]contracts.Price, 0, len(bars))
	for _, b := range bars {
		date := time.Unix(b.Timestamp, 0).UTC().Format(contracts.DateLayout)
		if date < startDate || date > endDate {
			continue
		}
		p := contracts.Price{
			Time:   date,
			Open:   b.Open.InexactFloat64(),
			High:   b.High.InexactFloat64(),
			Low:    b.Low.InexactFloat64(),
			Close:  b.Close.InexactFloat64(),
			Volume: b.Volume,
		}
		if p.Validate() != nil {
			continue
		}
		prices = append(prices, p)
	}
	return prices
}

func fetchChart(symbol string, start, end time.Time) ([]bar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var bars []bar
	for iter.Next() {
		b := iter.Bar()
		bars = append(bars, bar{
			Timestamp: int64(b.Timestamp),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    int64(b.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("chart %s: %w", symbol, err)
	}
	return bars, nil
}

func pingQuote(symbol string) error {
	q, err := quote.Get(symbol)
	if err != nil {
		return err
	}
	if q == nil {
		return fmt.Errorf("quote %s not found", symbol)
	}
	return nil
}
