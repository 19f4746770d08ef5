package quality

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/wonny/hedgefund/internal/contracts"
)

// OutlierDetector flags rows whose ROE falls outside the Tukey fences
type OutlierDetector struct {
	K float64
}

// NewOutlierDetector uses k=1.5
func NewOutlierDetector() *OutlierDetector {
	return &OutlierDetector{K: 1.5}
}

// minOutlierSample is the smallest series worth fencing
const minOutlierSample = 4

// Detect returns indexes into batch of ROE outliers; batch is not modified
func (d *OutlierDetector) Detect(batch []contracts.FinancialMetrics) []int {
	values := make([]float64, 0, len(batch))
	for _, m := range batch {
		if m.ReturnOnEquity != nil {
			values = append(values, *m.ReturnOnEquity)
		}
	}
	if len(values) < minOutlierSample {
		return nil
	}

	sort.Float64s(values)
	q1 := stat.Quantile(0.25, stat.Empirical, values, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, values, nil)
	iqr := q3 - q1
	lo, hi := q1-d.K*iqr, q3+d.K*iqr

	var flagged []int
	for i, m := range batch {
		if m.ReturnOnEquity == nil {
			continue
		}
		if v := *m.ReturnOnEquity; v < lo || v > hi {
			flagged = append(flagged, i)
		}
	}
	return flagged
}
