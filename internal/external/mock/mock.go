// Package mock fabricates deterministic market data.
// It is the last provider in the failover chain and backs tests.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
)

// Name is the source tag of this adapter
const Name = "mock"

// Seed is the fixed seed mixed into every generator
const Seed uint64 = 42

// Provider is always healthy and always answers
type Provider struct {
	priority int
}

// New creates the mock provider at the lowest priority
func New() *Provider {
	return &Provider{priority: 100}
}

// WithPriority overrides the rank, used by tests that need the mock first
func (p *Provider) WithPriority(priority int) *Provider {
	p.priority = priority
	return p
}

// Name returns the source tag
func (p *Provider) Name() string { return Name }

// Priority returns the rank
func (p *Provider) Priority() int { return p.priority }

// HealthCheck always succeeds
func (p *Provider) HealthCheck(context.Context) bool { return true }

// RateLimitInfo is unbounded
func (p *Provider) RateLimitInfo() provider.RateLimitInfo { return provider.RateLimitInfo{} }

// rng returns a generator keyed by the parts, independent of call order
func rng(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return rand.New(rand.NewPCG(h.Sum64(), Seed))
}

// basePrice is the per-ticker anchor in [20, 220)
func basePrice(ticker string) float64 {
	return 20 + rng(ticker).Float64()*200
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// GetPrices returns one bar per weekday in [startDate, endDate]
func (p *Provider) GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error) {
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

	base := basePrice(ticker)
	prices := []contracts.Price{}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		date := d.Format(contracts.DateLayout)
		r := rng(ticker, date)

		// slow drift plus daily noise
		days := d.Sub(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)).Hours() / 24
		trend := 1 + 0.15*math.Sin(days/90)
		closing := base * trend * (0.97 + 0.06*r.Float64())
		open := closing * (0.99 + 0.02*r.Float64())
		high := math.Max(open, closing) * (1 + 0.015*r.Float64())
		low := math.Min(open, closing) * (1 - 0.015*r.Float64())

		prices = append(prices, contracts.Price{
			Time:   date,
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(closing),
			Volume: 100_000 + r.Int64N(5_000_000),
		})
	}
	return provider.NewResponse(prices, Name, started), nil
}

// reportPeriods lists quarter ends (or year ends for annual) on or before endDate, newest first
func reportPeriods(endDate string, period contracts.Period, limit int) ([]string, error) {
	end, err := contracts.ParseDate(endDate)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	step := 3
	q := monthEnd(end.Year(), ((end.Month()-1)/3+1)*3)
	if q.After(end) {
		q = monthEnd(q.Year(), q.Month()-3)
	}
	if period == contracts.PeriodAnnual {
		step = 12
		q = monthEnd(end.Year(), 12)
		if q.After(end) {
			q = monthEnd(end.Year()-1, 12)
		}
	}

	out := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, monthEnd(q.Year(), q.Month()-time.Month(step*i)).Format(contracts.DateLayout))
	}
	return out, nil
}

// monthEnd normalizes out-of-range months, so monthEnd(2024, 0) is 2023-12-31
func monthEnd(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// GetFinancialMetrics returns plausible ratios per report period
func (p *Provider) GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.FinancialMetrics], error) {
	started := time.Now()
	var out provider.Response[[]contracts.FinancialMetrics]

	periods, err := reportPeriods(endDate, period, limit)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpMetrics, err)
	}

	currency := contracts.MarketOf(ticker).Currency()
	metrics := make([]contracts.FinancialMetrics, 0, len(periods))
	for _, rp := range periods {
		r := rng(ticker, "metrics", rp)
		between := func(lo, hi float64) *float64 {
			v := lo + (hi-lo)*r.Float64()
			return &v
		}

		m := contracts.FinancialMetrics{
			Ticker:               ticker,
			ReportPeriod:         rp,
			Period:               period,
			Currency:             currency,
			MarketCap:            between(5e9, 5e11),
			PriceToEarningsRatio: between(8, 45),
			PriceToBookRatio:     between(0.8, 12),
			PriceToSalesRatio:    between(0.5, 15),
			ReturnOnEquity:       between(-0.05, 0.35),
			ReturnOnAssets:       between(-0.02, 0.18),
			GrossMargin:          between(0.15, 0.9),
			OperatingMargin:      between(0.05, 0.45),
			NetMargin:            between(0.02, 0.35),
			DebtToEquity:         between(0.1, 2.5),
			CurrentRatio:         between(0.8, 4),
			QuickRatio:           between(0.5, 3),
			RevenueGrowth:        between(-0.1, 0.4),
			EarningsGrowth:       between(-0.2, 0.5),
			BookValueGrowth:      between(-0.05, 0.25),
			EarningsPerShare:     between(0.5, 20),
			BookValuePerShare:    between(5, 120),
			FreeCashFlowPerShare: between(0.2, 15),
			AssetTurnover:        between(0.2, 1.5),
		}
		m.PEGRatio = contracts.ComputePEG(m.PriceToEarningsRatio, m.EarningsGrowth)
		metrics = append(metrics, m)
	}
	return provider.NewResponse(metrics, Name, started), nil
}

// GetLineItems returns amounts consistent with the metrics' scale
func (p *Provider) GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.LineItem], error) {
	started := time.Now()
	var out provider.Response[[]contracts.LineItem]

	periods, err := reportPeriods(endDate, period, limit)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpLineItems, err)
	}

	currency := contracts.MarketOf(ticker).Currency()
	scale := 1e9 * (1 + 20*rng(ticker, "scale").Float64())
	lineItems := make([]contracts.LineItem, 0, len(periods))
	for i, rp := range periods {
		r := rng(ticker, "items", rp)
		// older periods are smaller so growth reads positive on average
		revenue := scale * math.Pow(0.97, float64(i)) * (0.95 + 0.1*r.Float64())
		net := revenue * (0.05 + 0.2*r.Float64())
		da := revenue * 0.04
		capex := revenue * (0.03 + 0.05*r.Float64())
		assets := revenue * 2.2
		liabilities := assets * (0.3 + 0.3*r.Float64())
		shares := 1e8 * (1 + 9*rng(ticker, "shares").Float64())

		lineItems = append(lineItems, contracts.LineItem{
			Ticker:                      ticker,
			ReportPeriod:                rp,
			Period:                      period,
			Currency:                    currency,
			Revenue:                     contracts.Float(revenue),
			NetIncome:                   contracts.Float(net),
			OperatingIncome:             contracts.Float(net * 1.3),
			GrossProfit:                 contracts.Float(revenue * 0.45),
			EBIT:                        contracts.Float(net * 1.35),
			EBITDA:                      contracts.Float(net*1.35 + da),
			DepreciationAndAmortization: contracts.Float(da),
			CapitalExpenditure:          contracts.Float(capex),
			FreeCashFlow:                contracts.Float(net + da - capex),
			TotalAssets:                 contracts.Float(assets),
			TotalLiabilities:            contracts.Float(liabilities),
			ShareholdersEquity:          contracts.Float(assets - liabilities),
			TotalDebt:                   contracts.Float(liabilities * 0.5),
			CashAndEquivalents:          contracts.Float(revenue * 0.3),
			WorkingCapital:              contracts.Float(revenue * 0.2),
			OutstandingShares:           contracts.Float(math.Round(shares)),
			InterestExpense:             contracts.Float(liabilities * 0.02),
		})
	}
	return provider.NewResponse(lineItems, Name, started), nil
}

var headlines = []struct {
	title     string
	sentiment contracts.Sentiment
}{
	{"%s beats quarterly earnings estimates", contracts.SentimentPositive},
	{"%s announces share buyback program", contracts.SentimentPositive},
	{"%s faces regulatory probe", contracts.SentimentNegative},
	{"%s cuts full-year guidance", contracts.SentimentNegative},
	{"%s holds annual shareholder meeting", contracts.SentimentNeutral},
	{"%s names new chief financial officer", contracts.SentimentNeutral},
}

// GetCompanyNews returns at most one headline per weekday, newest first
func (p *Provider) GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (provider.Response[[]contracts.CompanyNews], error) {
	started := time.Now()
	var out provider.Response[[]contracts.CompanyNews]

	start, err := contracts.ParseDate(startDate)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpNews, err)
	}
	end, err := contracts.ParseDate(endDate)
	if err != nil {
		return out, provider.Invalid(Name, provider.OpNews, err)
	}
	if limit <= 0 {
		limit = 50
	}

	news := []contracts.CompanyNews{}
	for d := end; !d.Before(start) && len(news) < limit; d = d.AddDate(0, 0, -1) {
		date := d.Format(contracts.DateLayout)
		r := rng(ticker, "news", date)
		if r.Float64() > 0.35 {
			continue
		}
		h := headlines[r.IntN(len(headlines))]
		news = append(news, contracts.CompanyNews{
			Ticker:    ticker,
			Title:     fmt.Sprintf(h.title, ticker) + " (" + date + ")",
			Date:      date,
			Source:    Name,
			Sentiment: h.sentiment,
		})
	}
	return provider.NewResponse(news, Name, started), nil
}
