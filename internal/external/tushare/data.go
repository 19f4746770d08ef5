package tushare

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
)

const (
	dailyFields     = "ts_code,trade_date,open,high,low,close,vol,amount"
	indicatorFields = "ts_code,ann_date,end_date,roe,roa,grossprofit_margin,netprofit_margin,debt_to_assets,current_ratio,quick_ratio,cash_ratio,or_yoy,netprofit_yoy,eps,bps,assets_turn,inv_turn"
	basicFields     = "ts_code,trade_date,pe_ttm,pb,ps_ttm,total_mv"
	incomeFields    = "ts_code,end_date,report_type,total_revenue,revenue,n_income_attr_p,operate_profit,oper_cost"
)

// vol is in lots, amount in thousands of yuan
var priceUnits = provider.UnitTable{
	"volume": 100,
	"amount": provider.Thousand,
}

var priceFields = provider.FieldMap{
	"open":   {"open"},
	"high":   {"high"},
	"low":    {"low"},
	"close":  {"close"},
	"volume": {"vol"},
}

var metricFields = provider.FieldMap{
	"return_on_equity":     {"roe", "roe_waa"},
	"return_on_assets":     {"roa"},
	"gross_margin":         {"grossprofit_margin"},
	"net_margin":           {"netprofit_margin"},
	"debt_to_assets":       {"debt_to_assets"},
	"current_ratio":        {"current_ratio"},
	"quick_ratio":          {"quick_ratio"},
	"cash_ratio":           {"cash_ratio"},
	"revenue_growth":       {"or_yoy", "tr_yoy"},
	"earnings_growth":      {"netprofit_yoy", "dt_netprofit_yoy"},
	"earnings_per_share":   {"eps"},
	"book_value_per_share": {"bps"},
	"asset_turnover":       {"assets_turn"},
	"inventory_turnover":   {"inv_turn"},
}

var metricUnits = provider.UnitTable{
	"return_on_equity": provider.Percent,
	"return_on_assets": provider.Percent,
	"gross_margin":     provider.Percent,
	"net_margin":       provider.Percent,
	"debt_to_assets":   provider.Percent,
	"revenue_growth":   provider.Percent,
	"earnings_growth":  provider.Percent,
}

var basicFieldMap = provider.FieldMap{
	"price_to_earnings_ratio": {"pe_ttm", "pe"},
	"price_to_book_ratio":     {"pb"},
	"price_to_sales_ratio":    {"ps_ttm", "ps"},
	"market_cap":              {"total_mv"},
}

// total_mv is quoted in 万元
var basicUnits = provider.UnitTable{
	"market_cap": provider.TenThousand,
}

var lineItemFields = provider.FieldMap{
	"revenue":          {"total_revenue", "revenue"},
	"net_income":       {"n_income_attr_p"},
	"operating_income": {"operate_profit"},
	"cost_of_revenue":  {"oper_cost"},
}

// GetPrices fetches unadjusted daily bars
func (c *Client) GetPrices(ctx context.Context, ticker, startDate, endDate string) (provider.Response[[]contracts.Price], error) {
	started := time.Now()
	var out provider.Response[[]contracts.Price]
	if err := c.supports(ticker, provider.OpPrices); err != nil {
		return out, err
	}

	rows, err := c.query(ctx, provider.OpPrices, "daily", map[string]any{
		"ts_code":    tsCode(ticker),
		"start_date": provider.CompactDate(startDate),
		"end_date":   provider.CompactDate(endDate),
	}, dailyFields)
	if err != nil {
		return out, err
	}

	prices := parseDaily(rows)
	return provider.NewResponse(prices, Name, started), nil
}

// parseDaily converts rows to prices, oldest first, skipping incomplete bars
func parseDaily(rows []map[string]any) []contracts.Price {
	prices := make([]contracts.Price, 0, len(rows))
	for _, row := range rows {
		date, ok := provider.ISODate(toString(row["trade_date"]))
		if !ok {
			continue
		}
		open := provider.Normalize(priceFields, priceUnits, "open", row)
		high := provider.Normalize(priceFields, priceUnits, "high", row)
		low := provider.Normalize(priceFields, priceUnits, "low", row)
		closing := provider.Normalize(priceFields, priceUnits, "close", row)
		volume := provider.Normalize(priceFields, priceUnits, "volume", row)
		if open == nil || high == nil || low == nil || closing == nil || volume == nil {
			continue
		}
		p := contracts.Price{
			Time:   date,
			Open:   *open,
			High:   *high,
			Low:    *low,
			Close:  *closing,
			Volume: int64(math.Round(*volume)),
		}
		if p.Validate() != nil {
			continue
		}
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Time < prices[j].Time })
	return prices
}

// GetFinancialMetrics merges fina_indicator rows with the latest daily_basic valuation
func (c *Client) GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.FinancialMetrics], error) {
	started := time.Now()
	var out provider.Response[[]contracts.FinancialMetrics]
	if err := c.supports(ticker, provider.OpMetrics); err != nil {
		return out, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := c.query(ctx, provider.OpMetrics, "fina_indicator", map[string]any{
		"ts_code":  tsCode(ticker),
		"end_date": "",
	}, indicatorFields)
	if err != nil {
		return out, err
	}
	rows = filterRows(rows, endDate, period, limit)

	metrics := make([]contracts.FinancialMetrics, 0, len(rows))
	for _, row := range rows {
		date, _ := provider.ISODate(toString(row["end_date"]))
		m := contracts.FinancialMetrics{
			Ticker:            ticker,
			ReportPeriod:      date,
			Period:            period,
			Currency:          "CNY",
			ReturnOnEquity:    provider.Normalize(metricFields, metricUnits, "return_on_equity", row),
			ReturnOnAssets:    provider.Normalize(metricFields, metricUnits, "return_on_assets", row),
			GrossMargin:       provider.Normalize(metricFields, metricUnits, "gross_margin", row),
			NetMargin:         provider.Normalize(metricFields, metricUnits, "net_margin", row),
			DebtToAssets:      provider.Normalize(metricFields, metricUnits, "debt_to_assets", row),
			CurrentRatio:      provider.Normalize(metricFields, metricUnits, "current_ratio", row),
			QuickRatio:        provider.Normalize(metricFields, metricUnits, "quick_ratio", row),
			CashRatio:         provider.Normalize(metricFields, metricUnits, "cash_ratio", row),
			RevenueGrowth:     provider.Normalize(metricFields, metricUnits, "revenue_growth", row),
			EarningsGrowth:    provider.Normalize(metricFields, metricUnits, "earnings_growth", row),
			EarningsPerShare:  provider.Normalize(metricFields, metricUnits, "earnings_per_share", row),
			BookValuePerShare: provider.Normalize(metricFields, metricUnits, "book_value_per_share", row),
			AssetTurnover:     provider.Normalize(metricFields, metricUnits, "asset_turnover", row),
			InventoryTurnover: provider.Normalize(metricFields, metricUnits, "inventory_turnover", row),
		}
		if m.DebtToAssets != nil && *m.DebtToAssets < 1 {
			de := *m.DebtToAssets / (1 - *m.DebtToAssets)
			m.DebtToEquity = &de
		}
		metrics = append(metrics, m)
	}

	if len(metrics) > 0 {
		basic, err := c.query(ctx, provider.OpMetrics, "daily_basic", map[string]any{
			"ts_code":    tsCode(ticker),
			"end_date":   provider.CompactDate(endDate),
			"start_date": provider.CompactDate(shiftDays(endDate, -14)),
		}, basicFields)
		if err != nil {
			c.logger.WithError(err).WithField("ticker", ticker).Warn("daily_basic lookup failed")
		} else if latest := newest(basic, "trade_date"); latest != nil {
			m := &metrics[0]
			m.PriceToEarningsRatio = provider.Normalize(basicFieldMap, basicUnits, "price_to_earnings_ratio", latest)
			m.PriceToBookRatio = provider.Normalize(basicFieldMap, basicUnits, "price_to_book_ratio", latest)
			m.PriceToSalesRatio = provider.Normalize(basicFieldMap, basicUnits, "price_to_sales_ratio", latest)
			m.MarketCap = provider.Normalize(basicFieldMap, basicUnits, "market_cap", latest)
			m.PEGRatio = contracts.ComputePEG(m.PriceToEarningsRatio, m.EarningsGrowth)
		}
	}

	return provider.NewResponse(metrics, Name, started), nil
}

// GetLineItems reads the income statement
func (c *Client) GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.LineItem], error) {
	started := time.Now()
	var out provider.Response[[]contracts.LineItem]
	if err := c.supports(ticker, provider.OpLineItems); err != nil {
		return out, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := c.query(ctx, provider.OpLineItems, "income", map[string]any{
		"ts_code": tsCode(ticker),
	}, incomeFields)
	if err != nil {
		return out, err
	}
	rows = filterRows(rows, endDate, period, limit)

	identity := provider.UnitTable{}
	lineItems := make([]contracts.LineItem, 0, len(rows))
	for _, row := range rows {
		date, _ := provider.ISODate(toString(row["end_date"]))
		item := contracts.LineItem{
			Ticker:          ticker,
			ReportPeriod:    date,
			Period:          period,
			Currency:        "CNY",
			Revenue:         provider.Normalize(lineItemFields, identity, "revenue", row),
			NetIncome:       provider.Normalize(lineItemFields, identity, "net_income", row),
			OperatingIncome: provider.Normalize(lineItemFields, identity, "operating_income", row),
		}
		if cost := provider.Normalize(lineItemFields, identity, "cost_of_revenue", row); cost != nil && item.Revenue != nil {
			gp := *item.Revenue - *cost
			item.GrossProfit = &gp
		}
		lineItems = append(lineItems, item)
	}
	return provider.NewResponse(lineItems, Name, started), nil
}

// GetCompanyNews is not available on the basic Tushare tier
func (c *Client) GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (provider.Response[[]contracts.CompanyNews], error) {
	return provider.Response[[]contracts.CompanyNews]{}, provider.Unsupported(Name, provider.OpNews)
}

// filterRows sorts by end_date desc, dedupes restated periods and applies endDate, period and limit
func filterRows(rows []map[string]any, endDate string, period contracts.Period, limit int) []map[string]any {
	sort.SliceStable(rows, func(i, j int) bool {
		return toString(rows[i]["end_date"]) > toString(rows[j]["end_date"])
	})

	seen := make(map[string]bool)
	out := make([]map[string]any, 0, limit)
	for _, row := range rows {
		date, ok := provider.ISODate(toString(row["end_date"]))
		if !ok || seen[date] || (endDate != "" && date > endDate) {
			continue
		}
		if period == contracts.PeriodAnnual && !strings.HasSuffix(date, "-12-31") {
			continue
		}
		seen[date] = true
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out
}

func newest(rows []map[string]any, dateField string) map[string]any {
	var best map[string]any
	for _, row := range rows {
		if best == nil || toString(row[dateField]) > toString(best[dateField]) {
			best = row
		}
	}
	return best
}

func shiftDays(iso string, days int) string {
	t, err := contracts.ParseDate(iso)
	if err != nil {
		return iso
	}
	return t.AddDate(0, 0, days).Format(contracts.DateLayout)
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
