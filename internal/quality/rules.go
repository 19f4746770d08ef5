package quality

import "github.com/wonny/hedgefund/internal/contracts"

// Severity of a range violation
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// RangeRule bounds one optional ratio
type RangeRule struct {
	Field    string
	Min, Max float64
	Severity Severity
}

// RangeRules is the semantic range table applied to every FinancialMetrics row
var RangeRules = []RangeRule{
	{"return_on_equity", -2.0, 2.0, SeverityError},
	{"return_on_assets", -2.0, 2.0, SeverityError},
	{"gross_margin", -0.5, 1.0, SeverityError},
	{"operating_margin", -0.5, 1.0, SeverityError},
	{"net_margin", -0.5, 1.0, SeverityError},
	{"debt_to_equity", 0.0, 10.0, SeverityWarning},
	{"current_ratio", 0.0, 50.0, SeverityWarning},
	{"quick_ratio", 0.0, 50.0, SeverityWarning},
	{"cash_ratio", 0.0, 50.0, SeverityWarning},
	{"revenue_growth", -1.0, 10.0, SeverityWarning},
	{"earnings_growth", -1.0, 10.0, SeverityWarning},
	{"price_to_earnings_ratio", 0.0, 1000.0, SeverityWarning},
	{"price_to_book_ratio", 0.0, 100.0, SeverityWarning},
}

// fieldRef returns the address of a ratio so rules and repairs share one lookup
func fieldRef(m *contracts.FinancialMetrics, field string) **float64 {
	switch field {
	case "return_on_equity":
		return &m.ReturnOnEquity
	case "return_on_assets":
		return &m.ReturnOnAssets
	case "gross_margin":
		return &m.GrossMargin
	case "operating_margin":
		return &m.OperatingMargin
	case "net_margin":
		return &m.NetMargin
	case "debt_to_equity":
		return &m.DebtToEquity
	case "current_ratio":
		return &m.CurrentRatio
	case "quick_ratio":
		return &m.QuickRatio
	case "cash_ratio":
		return &m.CashRatio
	case "revenue_growth":
		return &m.RevenueGrowth
	case "earnings_growth":
		return &m.EarningsGrowth
	case "price_to_earnings_ratio":
		return &m.PriceToEarningsRatio
	case "price_to_book_ratio":
		return &m.PriceToBookRatio
	}
	return nil
}
