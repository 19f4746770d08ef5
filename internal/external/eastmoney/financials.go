package eastmoney

import (
	"context"
	"strings"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/provider"
)

const (
	reportMainIndicators = "RPT_F10_FINANCE_MAINFINADATA"
	reportValuation      = "RPT_VALUEANALYSIS_DET"
)

// metricFields maps canonical names to Eastmoney columns, first present wins
var metricFields = provider.FieldMap{
	"return_on_equity":     {"ROEJQ", "ROEKCJQ", "ROE_AVG"},
	"return_on_assets":     {"ZZCJLL", "JROA"},
	"gross_margin":         {"XSMLL"},
	"net_margin":           {"XSJLL"},
	"debt_to_assets":       {"ZCFZL"},
	"current_ratio":        {"LD"},
	"quick_ratio":          {"SD"},
	"cash_ratio":           {"XJLLB"},
	"revenue_growth":       {"TOTALOPERATEREVETZ", "YYZSRGDHBZC"},
	"earnings_growth":      {"PARENTNETPROFITTZ", "KCFJCXSYJLRTZ"},
	"earnings_per_share":   {"EPSJB", "EPSXS"},
	"book_value_per_share": {"BPS"},
	"asset_turnover":       {"TOAZZL"},
	"inventory_turnover":   {"CHZZL"},
}

// ratios are reported in percent
var metricUnits = provider.UnitTable{
	"return_on_equity": provider.Percent,
	"return_on_assets": provider.Percent,
	"gross_margin":     provider.Percent,
	"net_margin":       provider.Percent,
	"debt_to_assets":   provider.Percent,
	"revenue_growth":   provider.Percent,
	"earnings_growth":  provider.Percent,
}

var valuationFields = provider.FieldMap{
	"price_to_earnings_ratio": {"PE_TTM", "PE_LAR"},
	"price_to_book_ratio":     {"PB_MRQ", "PB_LYR"},
	"price_to_sales_ratio":    {"PS_TTM", "PS_LYR"},
	"market_cap":              {"TOTAL_MARKET_CAP"},
}

var lineItemFields = provider.FieldMap{
	"revenue":      {"TOTALOPERATEREVE", "YYZSR"},
	"net_income":   {"PARENTNETPROFIT", "GSJLR"},
	"gross_profit": {"MLR"},
}

// amounts are already in yuan on this report
var lineItemUnits = provider.UnitTable{}

var dateFields = provider.FieldMap{
	"report_date": {"REPORT_DATE", "END_DATE"},
}

func reportDate(row map[string]any) (string, bool) {
	return provider.ISODate(dateFields.PickString("report_date", row))
}

// GetFinancialMetrics fetches main indicators and overlays the latest valuation on the newest row
func (c *Client) GetFinancialMetrics(ctx context.Context, ticker, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.FinancialMetrics], error) {
	started := time.Now()
	var out provider.Response[[]contracts.FinancialMetrics]

	if err := c.supports(ticker, provider.OpMetrics); err != nil {
		return out, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := c.queryReport(ctx, provider.OpMetrics, reportMainIndicators, ticker, limit*4+4)
	if err != nil {
		return out, err
	}
	rows = filterRows(rows, endDate, period, limit)

	metrics := make([]contracts.FinancialMetrics, 0, len(rows))
	for _, row := range rows {
		metrics = append(metrics, buildMetrics(ticker, period, row))
	}

	if len(metrics) > 0 {
		valuation, err := c.queryReport(ctx, provider.OpMetrics, reportValuation, ticker, 1)
		if err != nil {
			c.logger.WithError(err).WithField("ticker", ticker).Warn("Valuation lookup failed")
		} else if len(valuation) > 0 {
			overlayValuation(&metrics[0], valuation[0])
		}
	}

	return provider.NewResponse(metrics, Name, started), nil
}

// GetLineItems maps the amounts available on the main indicators report
func (c *Client) GetLineItems(ctx context.Context, ticker string, items []string, endDate string, period contracts.Period, limit int) (provider.Response[[]contracts.LineItem], error) {
	started := time.Now()
	var out provider.Response[[]contracts.LineItem]

	if err := c.supports(ticker, provider.OpLineItems); err != nil {
		return out, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := c.queryReport(ctx, provider.OpLineItems, reportMainIndicators, ticker, limit*4+4)
	if err != nil {
		return out, err
	}
	rows = filterRows(rows, endDate, period, limit)

	lineItems := make([]contracts.LineItem, 0, len(rows))
	for _, row := range rows {
		date, _ := reportDate(row)
		lineItems = append(lineItems, contracts.LineItem{
			Ticker:       ticker,
			ReportPeriod: date,
			Period:       period,
			Currency:     "CNY",
			Revenue:      provider.Normalize(lineItemFields, lineItemUnits, "revenue", row),
			NetIncome:    provider.Normalize(lineItemFields, lineItemUnits, "net_income", row),
			GrossProfit:  provider.Normalize(lineItemFields, lineItemUnits, "gross_profit", row),
		})
	}

	return provider.NewResponse(lineItems, Name, started), nil
}

// GetCompanyNews is served by the sina adapter
func (c *Client) GetCompanyNews(ctx context.Context, ticker, startDate, endDate string, limit int) (provider.Response[[]contracts.CompanyNews], error) {
	return provider.Response[[]contracts.CompanyNews]{}, provider.Unsupported(Name, provider.OpNews)
}

func buildMetrics(ticker string, period contracts.Period, row map[string]any) contracts.FinancialMetrics {
	date, _ := reportDate(row)

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

	// D/E from D/A: liabilities / (assets - liabilities)
	if m.DebtToAssets != nil && *m.DebtToAssets < 1 {
		de := *m.DebtToAssets / (1 - *m.DebtToAssets)
		m.DebtToEquity = &de
	}
	return m
}

func overlayValuation(m *contracts.FinancialMetrics, row map[string]any) {
	units := provider.UnitTable{}
	m.PriceToEarningsRatio = provider.Normalize(valuationFields, units, "price_to_earnings_ratio", row)
	m.PriceToBookRatio = provider.Normalize(valuationFields, units, "price_to_book_ratio", row)
	m.PriceToSalesRatio = provider.Normalize(valuationFields, units, "price_to_sales_ratio", row)
	m.MarketCap = provider.Normalize(valuationFields, units, "market_cap", row)
	m.PEGRatio = contracts.ComputePEG(m.PriceToEarningsRatio, m.EarningsGrowth)
}

// filterRows keeps rows on or before endDate matching period, newest first, up to limit
func filterRows(rows []map[string]any, endDate string, period contracts.Period, limit int) []map[string]any {
	out := make([]map[string]any, 0, limit)
	for _, row := range rows {
		date, ok := reportDate(row)
		if !ok || (endDate != "" && date > endDate) {
			continue
		}
		if period == contracts.PeriodAnnual && !isAnnual(row) {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out
}

func isAnnual(row map[string]any) bool {
	kind, _ := row["REPORT_TYPE"].(string)
	if kind != "" {
		return strings.Contains(kind, "年报")
	}
	date, _ := row["REPORT_DATE"].(string)
	return strings.Contains(date, "-12-31")
}
