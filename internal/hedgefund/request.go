package hedgefund

import (
	"fmt"
	"strings"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/portfolio"
)

// Request is one analysis run
type Request struct {
	Tickers          []string            `json:"tickers"`
	StartDate        string              `json:"start_date"`
	EndDate          string              `json:"end_date"`
	Portfolio        contracts.Portfolio `json:"portfolio"`
	SelectedAnalysts []string            `json:"selected_analysts,omitempty"`
	ModelName        string              `json:"model_name,omitempty"`
	ShowReasoning    bool                `json:"show_reasoning"`

	// Apply executes the decisions against Portfolio at the latest prices
	Apply bool `json:"apply"`
}

// Normalize trims and de-duplicates tickers, keeping their order
func (r *Request) Normalize() {
	seen := make(map[string]bool, len(r.Tickers))
	out := make([]string, 0, len(r.Tickers))
	for _, t := range r.Tickers {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	r.Tickers = out
	r.StartDate = strings.TrimSpace(r.StartDate)
	r.EndDate = strings.TrimSpace(r.EndDate)
}

// Validate checks the run preconditions
func (r Request) Validate() error {
	if len(r.Tickers) == 0 {
		return fmt.Errorf("%w: at least one ticker is required", contracts.ErrPrecondition)
	}
	start, err := contracts.ParseDate(r.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start date: %w", contracts.ErrPrecondition, err)
	}
	end, err := contracts.ParseDate(r.EndDate)
	if err != nil {
		return fmt.Errorf("%w: end date: %w", contracts.ErrPrecondition, err)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end date %s before start date %s", contracts.ErrPrecondition, r.EndDate, r.StartDate)
	}
	return r.Portfolio.Validate()
}

// DefaultDates returns today and three months back
func DefaultDates(now time.Time) (start, end string) {
	return now.AddDate(0, -3, 0).Format(contracts.DateLayout), now.Format(contracts.DateLayout)
}

// Result is the outcome of a run
type Result struct {
	RunID           string                                 `json:"run_id"`
	Decisions       map[string]contracts.Decision          `json:"decisions"`
	AnalystSignals  map[string]map[string]contracts.Signal `json:"analyst_signals"`
	RiskAssessments map[string]contracts.RiskAssessment    `json:"risk_assessments"`
	Portfolio       contracts.Portfolio                    `json:"portfolio"`
	Trades          []portfolio.Trade                      `json:"trades,omitempty"`
	StartedAt       time.Time                              `json:"started_at"`
	Duration        time.Duration                          `json:"duration_ns"`
}
