package contracts

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the ISO date format used on every record boundary
const DateLayout = "2006-01-02"

// ParseDate parses an ISO YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Price is one trading day of OHLCV data
// ⭐ SSOT: amounts are in the canonical unit of the issuing market
type Price struct {
	Time   string  `json:"time" msgpack:"time"` // YYYY-MM-DD
	Open   float64 `json:"open" msgpack:"open"`
	High   float64 `json:"high" msgpack:"high"`
	Low    float64 `json:"low" msgpack:"low"`
	Close  float64 `json:"close" msgpack:"close"`
	Volume int64   `json:"volume" msgpack:"volume"`
}

// Validate checks the OHLC invariant
func (p Price) Validate() error {
	for _, v := range []float64{p.Open, p.High, p.Low, p.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: non-positive or non-finite price on %s", ErrValidation, p.Time)
		}
	}
	if p.High < math.Max(p.Open, p.Close) {
		return fmt.Errorf("%w: high below open/close on %s", ErrValidation, p.Time)
	}
	if p.Low > math.Min(p.Open, p.Close) {
		return fmt.Errorf("%w: low above open/close on %s", ErrValidation, p.Time)
	}
	if p.Volume < 0 {
		return fmt.Errorf("%w: negative volume on %s", ErrValidation, p.Time)
	}
	if _, err := ParseDate(p.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Period is the reporting period of a fundamentals row
type Period string

const (
	PeriodTTM     Period = "ttm"
	PeriodAnnual  Period = "annual"
	PeriodQuarter Period = "quarter"
)

// Valid reports whether p is a known period
func (p Period) Valid() bool {
	switch p {
	case PeriodTTM, PeriodAnnual, PeriodQuarter:
		return true
	}
	return false
}

// FinancialMetrics is one reporting period of ratio data.
// Every ratio is optional: nil means the upstream did not report it.
type FinancialMetrics struct {
	Ticker       string `json:"ticker" msgpack:"ticker"`
	ReportPeriod string `json:"report_period" msgpack:"report_period"`
	Period       Period `json:"period" msgpack:"period"`
	Currency     string `json:"currency" msgpack:"currency"`

	MarketCap               *float64 `json:"market_cap" msgpack:"market_cap"`
	EnterpriseValue         *float64 `json:"enterprise_value" msgpack:"enterprise_value"`
	PriceToEarningsRatio    *float64 `json:"price_to_earnings_ratio" msgpack:"price_to_earnings_ratio"`
	PriceToBookRatio        *float64 `json:"price_to_book_ratio" msgpack:"price_to_book_ratio"`
	PriceToSalesRatio       *float64 `json:"price_to_sales_ratio" msgpack:"price_to_sales_ratio"`
	EnterpriseValueToEBITDA *float64 `json:"enterprise_value_to_ebitda_ratio" msgpack:"enterprise_value_to_ebitda_ratio"`
	PEGRatio                *float64 `json:"peg_ratio" msgpack:"peg_ratio"`
	GrossMargin             *float64 `json:"gross_margin" msgpack:"gross_margin"`
	OperatingMargin         *float64 `json:"operating_margin" msgpack:"operating_margin"`
	NetMargin               *float64 `json:"net_margin" msgpack:"net_margin"`
	ReturnOnEquity          *float64 `json:"return_on_equity" msgpack:"return_on_equity"`
	ReturnOnAssets          *float64 `json:"return_on_assets" msgpack:"return_on_assets"`
	ReturnOnInvestedCapital *float64 `json:"return_on_invested_capital" msgpack:"return_on_invested_capital"`
	AssetTurnover           *float64 `json:"asset_turnover" msgpack:"asset_turnover"`
	InventoryTurnover       *float64 `json:"inventory_turnover" msgpack:"inventory_turnover"`
	CurrentRatio            *float64 `json:"current_ratio" msgpack:"current_ratio"`
	QuickRatio              *float64 `json:"quick_ratio" msgpack:"quick_ratio"`
	CashRatio               *float64 `json:"cash_ratio" msgpack:"cash_ratio"`
	DebtToEquity            *float64 `json:"debt_to_equity" msgpack:"debt_to_equity"`
	DebtToAssets            *float64 `json:"debt_to_assets" msgpack:"debt_to_assets"`
	InterestCoverage        *float64 `json:"interest_coverage" msgpack:"interest_coverage"`
	RevenueGrowth           *float64 `json:"revenue_growth" msgpack:"revenue_growth"`
	EarningsGrowth          *float64 `json:"earnings_growth" msgpack:"earnings_growth"`
	BookValueGrowth         *float64 `json:"book_value_growth" msgpack:"book_value_growth"`
	EarningsPerShare        *float64 `json:"earnings_per_share" msgpack:"earnings_per_share"`
	BookValuePerShare       *float64 `json:"book_value_per_share" msgpack:"book_value_per_share"`
	FreeCashFlowPerShare    *float64 `json:"free_cash_flow_per_share" msgpack:"free_cash_flow_per_share"`
	FreeCashFlowYield       *float64 `json:"free_cash_flow_yield" msgpack:"free_cash_flow_yield"`
	PayoutRatio             *float64 `json:"payout_ratio" msgpack:"payout_ratio"`
}

// NaturalKey identifies a fundamentals row within a ticker
func (m FinancialMetrics) NaturalKey() string {
	return m.ReportPeriod + "|" + string(m.Period)
}

// ComputePEG derives PEG from P/E and earnings growth (fraction).
// Returns nil when either input is missing or growth is not positive.
func ComputePEG(pe, earningsGrowth *float64) *float64 {
	if pe == nil || earningsGrowth == nil || *earningsGrowth <= 0 || *pe <= 0 {
		return nil
	}
	peg := *pe / (*earningsGrowth * 100)
	return &peg
}

// LineItem is one reporting period of absolute amounts
type LineItem struct {
	Ticker       string `json:"ticker" msgpack:"ticker"`
	ReportPeriod string `json:"report_period" msgpack:"report_period"`
	Period       Period `json:"period" msgpack:"period"`
	Currency     string `json:"currency" msgpack:"currency"`

	Revenue                     *float64 `json:"revenue,omitempty" msgpack:"revenue"`
	NetIncome                   *float64 `json:"net_income,omitempty" msgpack:"net_income"`
	OperatingIncome             *float64 `json:"operating_income,omitempty" msgpack:"operating_income"`
	GrossProfit                 *float64 `json:"gross_profit,omitempty" msgpack:"gross_profit"`
	FreeCashFlow                *float64 `json:"free_cash_flow,omitempty" msgpack:"free_cash_flow"`
	EBIT                        *float64 `json:"ebit,omitempty" msgpack:"ebit"`
	EBITDA                      *float64 `json:"ebitda,omitempty" msgpack:"ebitda"`
	CapitalExpenditure          *float64 `json:"capital_expenditure,omitempty" msgpack:"capital_expenditure"`
	DepreciationAndAmortization *float64 `json:"depreciation_and_amortization,omitempty" msgpack:"depreciation_and_amortization"`
	TotalDebt                   *float64 `json:"total_debt,omitempty" msgpack:"total_debt"`
	TotalAssets                 *float64 `json:"total_assets,omitempty" msgpack:"total_assets"`
	TotalLiabilities            *float64 `json:"total_liabilities,omitempty" msgpack:"total_liabilities"`
	ShareholdersEquity          *float64 `json:"shareholders_equity,omitempty" msgpack:"shareholders_equity"`
	CashAndEquivalents          *float64 `json:"cash_and_equivalents,omitempty" msgpack:"cash_and_equivalents"`
	WorkingCapital              *float64 `json:"working_capital,omitempty" msgpack:"working_capital"`
	OutstandingShares           *float64 `json:"outstanding_shares,omitempty" msgpack:"outstanding_shares"`
	InterestExpense             *float64 `json:"interest_expense,omitempty" msgpack:"interest_expense"`
	DividendsAndOtherCashDist   *float64 `json:"dividends_and_other_cash_distributions,omitempty" msgpack:"dividends"`
}

// Get returns a line item amount by its canonical snake_case name
func (l LineItem) Get(name string) *float64 {
	switch name {
	case "revenue":
		return l.Revenue
	case "net_income":
		return l.NetIncome
	case "operating_income":
		return l.OperatingIncome
	case "gross_profit":
		return l.GrossProfit
	case "free_cash_flow":
		return l.FreeCashFlow
	case "ebit":
		return l.EBIT
	case "ebitda":
		return l.EBITDA
	case "capital_expenditure":
		return l.CapitalExpenditure
	case "depreciation_and_amortization":
		return l.DepreciationAndAmortization
	case "total_debt":
		return l.TotalDebt
	case "total_assets":
		return l.TotalAssets
	case "total_liabilities":
		return l.TotalLiabilities
	case "shareholders_equity":
		return l.ShareholdersEquity
	case "cash_and_equivalents":
		return l.CashAndEquivalents
	case "working_capital":
		return l.WorkingCapital
	case "outstanding_shares":
		return l.OutstandingShares
	case "interest_expense":
		return l.InterestExpense
	case "dividends_and_other_cash_distributions":
		return l.DividendsAndOtherCashDist
	}
	return nil
}

// Validate checks the line item invariants
func (l LineItem) Validate() error {
	if l.OutstandingShares != nil && *l.OutstandingShares < 0 {
		return fmt.Errorf("%w: negative outstanding shares for %s", ErrValidation, l.ReportPeriod)
	}
	return nil
}

// NaturalKey identifies a line item row within a ticker
func (l LineItem) NaturalKey() string {
	return l.ReportPeriod + "|" + string(l.Period)
}

// Sentiment of a news item
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// CompanyNews is one news headline about a ticker
type CompanyNews struct {
	Ticker    string    `json:"ticker" msgpack:"ticker"`
	Title     string    `json:"title" msgpack:"title"`
	Date      string    `json:"date" msgpack:"date"`
	Author    string    `json:"author,omitempty" msgpack:"author"`
	Source    string    `json:"source,omitempty" msgpack:"source"`
	URL       string    `json:"url,omitempty" msgpack:"url"`
	Sentiment Sentiment `json:"sentiment,omitempty" msgpack:"sentiment"`
}

// Validate rejects headlines without a title
func (n CompanyNews) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: empty news title for %s on %s", ErrValidation, n.Ticker, n.Date)
	}
	return nil
}

// NaturalKey is the lower-cased, trimmed title
func (n CompanyNews) NaturalKey() string {
	return strings.ToLower(strings.TrimSpace(n.Title))
}

// Market identifies the listing venue family of a ticker
type Market string

const (
	MarketCN Market = "CN"
	MarketUS Market = "US"
)

var cnTicker = regexp.MustCompile(`^\d{6}(\.(SH|SZ|BJ|SS))?$`)

// MarketOf classifies a ticker. Six-digit codes (optionally suffixed) are A-shares.
func MarketOf(ticker string) Market {
	if cnTicker.MatchString(strings.ToUpper(strings.TrimSpace(ticker))) {
		return MarketCN
	}
	return MarketUS
}

// Currency returns the canonical currency of the market
func (m Market) Currency() string {
	if m == MarketCN {
		return "CNY"
	}
	return "USD"
}

// BareCode strips an exchange suffix: "600519.SH" -> "600519"
func BareCode(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if i := strings.IndexByte(t, '.'); i > 0 {
		return t[:i]
	}
	return t
}

// ExchangeOf returns SH, SZ or BJ for a six-digit A-share code
func ExchangeOf(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if i := strings.IndexByte(t, '.'); i > 0 {
		suffix := t[i+1:]
		if suffix == "SS" {
			return "SH"
		}
		return suffix
	}
	switch {
	case strings.HasPrefix(t, "6"), strings.HasPrefix(t, "9"):
		return "SH"
	case strings.HasPrefix(t, "4"), strings.HasPrefix(t, "8"):
		return "BJ"
	default:
		return "SZ"
	}
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
