package quality

import (
	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/metrics"
)

// Pipeline runs repair, then validate, then clean
// ⭐ SSOT: every batch served by the router passes through here before caching
type Pipeline struct {
	repairer  *Repairer
	validator *Validator
	cleaner   *Cleaner
	outliers  *OutlierDetector
	metrics   *metrics.Recorder
	logger    *logger.Logger
}

// NewPipeline wires the default stages; rec may be nil
func NewPipeline(log *logger.Logger, rec *metrics.Recorder) *Pipeline {
	return &Pipeline{
		repairer:  NewRepairer(log),
		validator: NewValidator(log),
		cleaner:   NewCleaner(),
		outliers:  NewOutlierDetector(),
		metrics:   rec,
		logger:    log,
	}
}

// Prices validates and cleans a price batch
func (p *Pipeline) Prices(ticker string, batch []contracts.Price) ([]contracts.Price, Report) {
	valid, report := p.validator.ValidatePrices(ticker, batch)
	p.metrics.RecordValidationDrops("prices", report.Errors)
	return p.cleaner.Prices(valid), report
}

// Metrics repairs, validates and cleans a fundamentals batch, then logs ROE outliers
func (p *Pipeline) Metrics(ticker string, batch []contracts.FinancialMetrics) ([]contracts.FinancialMetrics, Report) {
	repaired, _ := p.repairer.Repair(batch)
	valid, report := p.validator.ValidateMetrics(ticker, repaired)
	p.metrics.RecordValidationDrops("financial_metrics", report.Errors)

	cleaned := p.cleaner.Metrics(valid)
	if flagged := p.outliers.Detect(cleaned); len(flagged) > 0 {
		periods := make([]string, len(flagged))
		for i, idx := range flagged {
			periods[i] = cleaned[idx].ReportPeriod
		}
		p.logger.WithFields(map[string]interface{}{
			"ticker":  ticker,
			"periods": periods,
		}).Warn("ROE outliers flagged")
	}
	return cleaned, report
}

// LineItems validates and cleans a line item batch
func (p *Pipeline) LineItems(ticker string, batch []contracts.LineItem) ([]contracts.LineItem, Report) {
	valid, report := p.validator.ValidateLineItems(ticker, batch)
	p.metrics.RecordValidationDrops("line_items", report.Errors)
	return p.cleaner.LineItems(valid), report
}

// News drops untitled headlines, then dedupes and sorts newest first
func (p *Pipeline) News(ticker string, batch []contracts.CompanyNews) ([]contracts.CompanyNews, Report) {
	valid, report := p.validator.ValidateNews(ticker, batch)
	p.metrics.RecordValidationDrops("news", report.Errors)
	return p.cleaner.News(valid), report
}
