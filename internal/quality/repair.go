package quality

import (
	"math"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// RepairThresholds maps ratio fields to the magnitude above which the value is taken as unscaled percent
var RepairThresholds = map[string]float64{
	"return_on_equity": 1.0,
	"return_on_assets": 1.0,
	"gross_margin":     1.0,
	"operating_margin": 1.0,
	"net_margin":       1.0,
	"revenue_growth":   10.0,
	"earnings_growth":  10.0,
	"debt_to_equity":   10.0,
}

// repairOrder keeps log output stable
var repairOrder = []string{
	"return_on_equity", "return_on_assets", "gross_margin", "operating_margin",
	"net_margin", "revenue_growth", "earnings_growth", "debt_to_equity",
}

// Repairer rescales percent values that slipped through an adapter's unit table.
// Output is always within threshold, so Repair(Repair(x)) == Repair(x).
type Repairer struct {
	thresholds map[string]float64
	logger     *logger.Logger
}

// NewRepairer creates a repairer with RepairThresholds
func NewRepairer(log *logger.Logger) *Repairer {
	return &Repairer{thresholds: RepairThresholds, logger: log}
}

// Repair returns a copy of batch with suspect ratios divided by 100 until within threshold
func (r *Repairer) Repair(batch []contracts.FinancialMetrics) ([]contracts.FinancialMetrics, int) {
	out := make([]contracts.FinancialMetrics, len(batch))
	repairs := 0

	for i := range batch {
		m := batch[i]
		for _, field := range repairOrder {
			limit, ok := r.thresholds[field]
			if !ok {
				continue
			}
			ref := fieldRef(&m, field)
			if ref == nil || *ref == nil {
				continue
			}
			original := **ref
			if math.IsNaN(original) || math.IsInf(original, 0) || math.Abs(original) <= limit {
				continue
			}

			fixed := original
			for math.Abs(fixed) > limit {
				fixed /= 100
			}
			*ref = &fixed
			repairs++

			r.logger.WithFields(map[string]interface{}{
				"ticker":        m.Ticker,
				"report_period": m.ReportPeriod,
				"field":         field,
				"from":          original,
				"to":            fixed,
			}).Info("Repaired unscaled percent")
		}
		out[i] = m
	}
	return out, repairs
}
