package snapshot

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/wonny/hedgefund/internal/contracts"
)

// recentBars caps the price table in summary.md
const recentBars = 20

// writeSummary renders summary.md from whatever JSON files exist in dir
func (w *Writer) writeSummary(ticker, date, dir string) error {
	var prices []contracts.Price
	hasPrices, err := readJSON(filepath.Join(dir, pricesFile), &prices)
	if err != nil {
		return err
	}
	var fin Financials
	hasFin, err := readJSON(filepath.Join(dir, financialsFile), &fin)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s @ %s\n\n", ticker, date)
	fmt.Fprintf(&b, "Generated: %s\n\n", w.now().UTC().Format("2006-01-02 15:04:05 UTC"))

	if hasPrices {
		renderPrices(&b, prices)
	}
	if hasFin {
		renderMetrics(&b, fin.FinancialMetrics)
		renderLineItems(&b, fin.LineItems)
	}

	return writeFile(filepath.Join(dir, summaryFile), []byte(b.String()))
}

func renderPrices(b *strings.Builder, prices []contracts.Price) {
	b.WriteString("## Prices\n\n")
	if len(prices) == 0 {
		b.WriteString("No bars.\n\n")
		return
	}

	first, last := prices[0], prices[len(prices)-1]
	high, low := first.High, first.Low
	for _, p := range prices {
		if p.High > high {
			high = p.High
		}
		if p.Low < low {
			low = p.Low
		}
	}
	change := 0.0
	if first.Close > 0 {
		change = (last.Close/first.Close - 1) * 100
	}

	fmt.Fprintf(b, "- Bars: %d (%s ~ %s)\n", len(prices), first.Time, last.Time)
	fmt.Fprintf(b, "- Close: %.2f -> %.2f (%+.2f%%)\n", first.Close, last.Close, change)
	fmt.Fprintf(b, "- Range: %.2f ~ %.2f\n\n", low, high)

	b.WriteString("| Date | Open | High | Low | Close | Volume |\n")
	b.WriteString("|------|------|------|-----|-------|--------|\n")
	start := 0
	if len(prices) > recentBars {
		start = len(prices) - recentBars
	}
	for _, p := range prices[start:] {
		fmt.Fprintf(b, "| %s | %.2f | %.2f | %.2f | %.2f | %d |\n", p.Time, p.Open, p.High, p.Low, p.Close, p.Volume)
	}
	b.WriteString("\n")
}

func renderMetrics(b *strings.Builder, metrics []contracts.FinancialMetrics) {
	b.WriteString("## Financial Metrics\n\n")
	if len(metrics) == 0 {
		b.WriteString("No reports.\n\n")
		return
	}
	b.WriteString("| Period | P/E | P/B | ROE | Net Margin | Revenue Growth | D/E |\n")
	b.WriteString("|--------|-----|-----|-----|------------|----------------|-----|\n")
	for _, m := range metrics {
		fmt.Fprintf(b, "| %s (%s) | %s | %s | %s | %s | %s | %s |\n",
			m.ReportPeriod, m.Period,
			ratio(m.PriceToEarningsRatio), ratio(m.PriceToBookRatio),
			percent(m.ReturnOnEquity), percent(m.NetMargin),
			percent(m.RevenueGrowth), ratio(m.DebtToEquity))
	}
	b.WriteString("\n")
}

func renderLineItems(b *strings.Builder, items []contracts.LineItem) {
	b.WriteString("## Line Items\n\n")
	if len(items) == 0 {
		b.WriteString("No line items.\n\n")
		return
	}
	b.WriteString("| Period | Revenue | Net Income | Free Cash Flow | Total Assets |\n")
	b.WriteString("|--------|---------|------------|----------------|--------------|\n")
	for _, l := range items {
		fmt.Fprintf(b, "| %s (%s) | %s | %s | %s | %s |\n",
			l.ReportPeriod, l.Period,
			amount(l.Revenue), amount(l.NetIncome), amount(l.FreeCashFlow), amount(l.TotalAssets))
	}
	b.WriteString("\n")
}

func ratio(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func percent(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

// amount prints values of 1e8 and above in 亿
func amount(v *float64) string {
	if v == nil {
		return "-"
	}
	if math.Abs(*v) >= 1e8 {
		return fmt.Sprintf("%.2f亿", *v/1e8)
	}
	return fmt.Sprintf("%.0f", *v)
}
