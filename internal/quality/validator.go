package quality

import (
	"fmt"
	"math"
	"sort"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// MinPassRate below which a batch is reported at warn level
const MinPassRate = 0.8

// Report summarizes one validated batch
type Report struct {
	Ticker       string         `json:"ticker"`
	Total        int            `json:"total"`
	Passed       int            `json:"passed"`
	Errors       int            `json:"errors"`
	Warnings     int            `json:"warnings"`
	FailureKinds map[string]int `json:"failure_kinds"`
}

// PassRate is Passed/Total, 1 for an empty batch
func (r Report) PassRate() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Passed) / float64(r.Total)
}

// TopFailures returns up to n failure kinds, most frequent first
func (r Report) TopFailures(n int) []string {
	kinds := make([]string, 0, len(r.FailureKinds))
	for k := range r.FailureKinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if r.FailureKinds[kinds[i]] != r.FailureKinds[kinds[j]] {
			return r.FailureKinds[kinds[i]] > r.FailureKinds[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	if len(kinds) > n {
		kinds = kinds[:n]
	}
	return kinds
}

func newReport(ticker string, total int) Report {
	return Report{Ticker: ticker, Total: total, FailureKinds: make(map[string]int)}
}

// Validator applies RangeRules and the price invariants
type Validator struct {
	rules  []RangeRule
	logger *logger.Logger
}

// NewValidator creates a validator with the default range table
func NewValidator(log *logger.Logger) *Validator {
	return &Validator{rules: RangeRules, logger: log}
}

// ValidateMetrics drops rows with an error-range violation and keeps warning rows
func (v *Validator) ValidateMetrics(ticker string, batch []contracts.FinancialMetrics) ([]contracts.FinancialMetrics, Report) {
	report := newReport(ticker, len(batch))
	valid := make([]contracts.FinancialMetrics, 0, len(batch))

	for i := range batch {
		m := batch[i]
		dropped := false
		for _, rule := range v.rules {
			ref := fieldRef(&m, rule.Field)
			if ref == nil || *ref == nil {
				continue
			}
			val := **ref
			finite := !math.IsNaN(val) && !math.IsInf(val, 0)
			if finite && val >= rule.Min && val <= rule.Max {
				continue
			}
			if !finite && rule.Severity == SeverityWarning {
				*ref = nil
			}

			kind := rule.Field + "_out_of_range"
			report.FailureKinds[kind]++
			fields := map[string]interface{}{
				"ticker":        ticker,
				"report_period": m.ReportPeriod,
				"field":         rule.Field,
				"value":         val,
				"min":           rule.Min,
				"max":           rule.Max,
			}
			if rule.Severity == SeverityError {
				dropped = true
				v.logger.WithFields(fields).Warn("Dropping metrics row outside error range")
			} else {
				report.Warnings++
				v.logger.WithFields(fields).Debug("Metric outside warning range")
			}
		}

		if dropped {
			report.Errors++
			continue
		}
		report.Passed++
		valid = append(valid, m)
	}

	v.warnIfLow(report, "financial_metrics")
	return valid, report
}

// ValidatePrices drops bars that break the OHLC invariant
func (v *Validator) ValidatePrices(ticker string, batch []contracts.Price) ([]contracts.Price, Report) {
	report := newReport(ticker, len(batch))
	valid := make([]contracts.Price, 0, len(batch))

	for _, p := range batch {
		if err := p.Validate(); err != nil {
			report.Errors++
			report.FailureKinds["price_invariant"]++
			v.logger.WithError(err).WithFields(map[string]interface{}{
				"ticker": ticker,
				"date":   p.Time,
			}).Debug("Dropping invalid price bar")
			continue
		}
		report.Passed++
		valid = append(valid, p)
	}

	v.warnIfLow(report, "prices")
	return valid, report
}

// ValidateLineItems drops rows failing LineItem.Validate
func (v *Validator) ValidateLineItems(ticker string, batch []contracts.LineItem) ([]contracts.LineItem, Report) {
	report := newReport(ticker, len(batch))
	valid := make([]contracts.LineItem, 0, len(batch))

	for _, item := range batch {
		if err := item.Validate(); err != nil {
			report.Errors++
			report.FailureKinds["line_item_invariant"]++
			continue
		}
		report.Passed++
		valid = append(valid, item)
	}

	v.warnIfLow(report, "line_items")
	return valid, report
}

// ValidateNews drops headlines failing CompanyNews.Validate
func (v *Validator) ValidateNews(ticker string, batch []contracts.CompanyNews) ([]contracts.CompanyNews, Report) {
	report := newReport(ticker, len(batch))
	valid := make([]contracts.CompanyNews, 0, len(batch))

	for _, n := range batch {
		if err := n.Validate(); err != nil {
			report.Errors++
			report.FailureKinds["empty_title"]++
			continue
		}
		report.Passed++
		valid = append(valid, n)
	}

	v.warnIfLow(report, "news")
	return valid, report
}

func (v *Validator) warnIfLow(report Report, dataType string) {
	if report.PassRate() >= MinPassRate {
		return
	}
	v.logger.WithFields(map[string]interface{}{
		"ticker":       report.Ticker,
		"data_type":    dataType,
		"total":        report.Total,
		"passed":       report.Passed,
		"pass_rate":    fmt.Sprintf("%.2f", report.PassRate()),
		"top_failures": report.TopFailures(3),
	}).Warn("Low data quality pass rate")
}
