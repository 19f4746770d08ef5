package quality

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/metrics"
)

var f = contracts.Float

func row(period string, roe *float64) contracts.FinancialMetrics {
	return contracts.FinancialMetrics{Ticker: "AAPL", ReportPeriod: period, Period: contracts.PeriodTTM, ReturnOnEquity: roe}
}

func TestValidateMetrics(t *testing.T) {
	v := NewValidator(logger.Nop())

	tests := []struct {
		name         string
		metrics      contracts.FinancialMetrics
		wantKept     bool
		wantWarnings int
	}{
		{"all nil is valid", row("2024-03-31", nil), true, 0},
		{"in range", row("2024-03-31", f(0.25)), true, 0},
		{"roe above error max", row("2024-03-31", f(2.5)), false, 0},
		{"margin below error min", contracts.FinancialMetrics{ReportPeriod: "2024-03-31", NetMargin: f(-0.8)}, false, 0},
		{"d/e warning kept", contracts.FinancialMetrics{ReportPeriod: "2024-03-31", DebtToEquity: f(12)}, true, 1},
		{"p/e warning kept", contracts.FinancialMetrics{ReportPeriod: "2024-03-31", PriceToEarningsRatio: f(-5)}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, report := v.ValidateMetrics("AAPL", []contracts.FinancialMetrics{tt.metrics})
			assert.Equal(t, tt.wantKept, len(valid) == 1)
			assert.Equal(t, tt.wantWarnings, report.Warnings)
			assert.Equal(t, 1, report.Total)
		})
	}
}

func TestValidateMetrics_NoErrorRangeViolationSurvives(t *testing.T) {
	v := NewValidator(logger.Nop())
	batch := []contracts.FinancialMetrics{
		row("2024-03-31", f(0.1)),
		row("2023-12-31", f(-3)),
		{ReportPeriod: "2023-09-30", GrossMargin: f(1.2)},
		{ReportPeriod: "2023-06-30", OperatingMargin: f(0.3)},
	}

	valid, report := v.ValidateMetrics("AAPL", batch)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, 0.5, report.PassRate())

	for _, m := range valid {
		for _, rule := range RangeRules {
			ref := fieldRef(&m, rule.Field)
			if rule.Severity != SeverityError || *ref == nil {
				continue
			}
			assert.GreaterOrEqual(t, **ref, rule.Min)
			assert.LessOrEqual(t, **ref, rule.Max)
		}
	}
}

func TestValidateMetrics_LowPassRateWarns(t *testing.T) {
	var buf bytes.Buffer
	v := NewValidator(logger.NewWithWriter(&buf, "warn"))

	v.ValidateMetrics("600519", []contracts.FinancialMetrics{row("2024-03-31", f(5)), row("2023-12-31", f(0.1))})
	assert.Contains(t, buf.String(), "Low data quality pass rate")
	assert.Contains(t, buf.String(), "return_on_equity_out_of_range")
}

func TestValidatePrices(t *testing.T) {
	v := NewValidator(logger.Nop())
	batch := []contracts.Price{
		{Time: "2024-01-02", Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
		{Time: "2024-01-03", Open: 10, High: 9, Low: 8, Close: 10.5, Volume: 100},
		{Time: "2024-01-04", Open: 0, High: 11, Low: 9, Close: 10.5, Volume: 100},
	}
	valid, report := v.ValidatePrices("AAPL", batch)
	assert.Len(t, valid, 1)
	assert.Equal(t, 2, report.FailureKinds["price_invariant"])
}

func TestRepair(t *testing.T) {
	r := NewRepairer(logger.Nop())

	tests := []struct {
		name  string
		in    contracts.FinancialMetrics
		field string
		want  *float64
	}{
		{"unscaled roe", contracts.FinancialMetrics{ReturnOnEquity: f(15.5)}, "return_on_equity", f(0.155)},
		{"double unscaled roe", contracts.FinancialMetrics{ReturnOnEquity: f(1550)}, "return_on_equity", f(0.155)},
		{"canonical roe untouched", contracts.FinancialMetrics{ReturnOnEquity: f(0.9)}, "return_on_equity", f(0.9)},
		{"growth under 10 untouched", contracts.FinancialMetrics{RevenueGrowth: f(4.2)}, "revenue_growth", f(4.2)},
		{"growth over 10 rescaled", contracts.FinancialMetrics{RevenueGrowth: f(35)}, "revenue_growth", f(0.35)},
		{"negative margin", contracts.FinancialMetrics{NetMargin: f(-12)}, "net_margin", f(-0.12)},
		{"nil stays nil", contracts.FinancialMetrics{}, "return_on_equity", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _ := r.Repair([]contracts.FinancialMetrics{tt.in})
			got := *fieldRef(&out[0], tt.field)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-12)
		})
	}
}

func TestRepair_Idempotent(t *testing.T) {
	r := NewRepairer(logger.Nop())
	batch := []contracts.FinancialMetrics{
		{ReturnOnEquity: f(350), GrossMargin: f(91.9), DebtToEquity: f(25), EarningsGrowth: f(0.2)},
		{ReturnOnEquity: f(-1.5), NetMargin: f(0.3)},
	}

	once, n1 := r.Repair(batch)
	twice, n2 := r.Repair(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, 4, n1)
	assert.Zero(t, n2)
	assert.InDelta(t, 350.0, *batch[0].ReturnOnEquity, 0, "input not mutated")
}

func TestCleaner(t *testing.T) {
	c := NewCleaner()

	prices := c.Prices([]contracts.Price{{Time: "2024-01-03", Close: 2}, {Time: "2024-01-02", Close: 1}, {Time: "2024-01-03", Close: 3}})
	require.Len(t, prices, 2)
	assert.Equal(t, "2024-01-02", prices[0].Time)
	assert.Equal(t, 2.0, prices[1].Close, "first occurrence wins")

	metrics := c.Metrics([]contracts.FinancialMetrics{row("2023-12-31", nil), row("2024-03-31", nil), row("2023-12-31", f(1))})
	require.Len(t, metrics, 2)
	assert.Equal(t, "2024-03-31", metrics[0].ReportPeriod)

	news := c.News([]contracts.CompanyNews{{Title: "Beat", Date: "2024-01-02"}, {Title: " beat ", Date: "2024-01-05"}, {Title: "Miss", Date: "2024-01-04"}})
	require.Len(t, news, 2)
	assert.Equal(t, "Miss", news[0].Title)
}

func TestOutlierDetector(t *testing.T) {
	d := NewOutlierDetector()
	batch := []contracts.FinancialMetrics{
		row("q1", f(0.20)), row("q2", f(0.21)), row("q3", f(0.19)),
		row("q4", f(0.22)), row("q5", f(1.80)), row("q6", nil), row("q7", f(0.20)),
	}
	assert.Equal(t, []int{4}, d.Detect(batch))
	assert.Len(t, batch, 7, "never removes")

	assert.Nil(t, d.Detect(batch[:3]), "too few points")
}

func TestPipeline_RepairsBeforeValidating(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewWithRegistry(reg)
	p := NewPipeline(logger.Nop(), rec)

	out, report := p.Metrics("600519", []contracts.FinancialMetrics{
		row("2023-12-31", f(34.19)),
		row("2024-03-31", f(12.3)),
		{Ticker: "600519", ReportPeriod: "2023-09-30", GrossMargin: f(-80)},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "2024-03-31", out[0].ReportPeriod)
	assert.InDelta(t, 0.123, *out[0].ReturnOnEquity, 1e-12)
	assert.Equal(t, 1, report.Errors, "-0.8 margin still out of range after repair")

	prices, _ := p.Prices("600519", []contracts.Price{{Time: "2024-01-02", Open: 1, High: 0.5, Low: 0.4, Close: 1}})
	assert.Empty(t, prices)
	count, err := testutil.GatherAndCount(reg, "hedgefund_validation_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series each for financial_metrics and prices")
}

func TestPipeline_NewsDropsUntitledHeadlines(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPipeline(logger.Nop(), metrics.NewWithRegistry(reg))

	out, report := p.News("AAPL", []contracts.CompanyNews{
		{Ticker: "AAPL", Title: "Earnings beat", Date: "2024-01-02"},
		{Ticker: "AAPL", Title: "   ", Date: "2024-01-03"},
		{Ticker: "AAPL", Title: "", Date: "2024-01-04"},
		{Ticker: "AAPL", Title: "earnings beat ", Date: "2024-01-05"},
	})

	require.Len(t, out, 1)
	assert.Equal(t, "Earnings beat", out[0].Title)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Errors)
	assert.Equal(t, 2, report.FailureKinds["empty_title"])
	count, err := testutil.GatherAndCount(reg, "hedgefund_validation_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
