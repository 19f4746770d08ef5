package quality

import (
	"sort"

	"github.com/wonny/hedgefund/internal/contracts"
)

// Cleaner dedupes by natural key and orders each data type.
// The first occurrence of a key wins.
type Cleaner struct{}

// NewCleaner creates a cleaner
func NewCleaner() *Cleaner {
	return &Cleaner{}
}

// Prices dedupes by date and sorts ascending
func (c *Cleaner) Prices(batch []contracts.Price) []contracts.Price {
	out := dedupe(batch, func(p contracts.Price) string { return p.Time })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// Metrics dedupes by (report period, period) and sorts newest first
func (c *Cleaner) Metrics(batch []contracts.FinancialMetrics) []contracts.FinancialMetrics {
	out := dedupe(batch, contracts.FinancialMetrics.NaturalKey)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReportPeriod > out[j].ReportPeriod })
	return out
}

// LineItems dedupes by (report period, period) and sorts newest first
func (c *Cleaner) LineItems(batch []contracts.LineItem) []contracts.LineItem {
	out := dedupe(batch, contracts.LineItem.NaturalKey)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReportPeriod > out[j].ReportPeriod })
	return out
}

// News dedupes by lower-cased title and sorts newest first
func (c *Cleaner) News(batch []contracts.CompanyNews) []contracts.CompanyNews {
	out := dedupe(batch, contracts.CompanyNews.NaturalKey)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}

func dedupe[T any](batch []T, key func(T) string) []T {
	seen := make(map[string]bool, len(batch))
	out := make([]T, 0, len(batch))
	for _, v := range batch {
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
