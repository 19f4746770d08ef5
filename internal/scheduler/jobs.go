package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/graph"
	"github.com/wonny/hedgefund/internal/hedgefund"
	"github.com/wonny/hedgefund/internal/router"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Runner executes an analysis run
type Runner interface {
	Run(ctx context.Context, req hedgefund.Request, sink graph.ProgressSink) (*hedgefund.Result, error)
}

// RunJob runs the hedge fund for a fixed ticker list on a schedule.
// Empty dates in the template are filled with the default window ending today.
type RunJob struct {
	schedule string
	runner   Runner
	template hedgefund.Request
	now      func() time.Time
	logger   *logger.Logger

	mu   sync.Mutex
	last *hedgefund.Result
}

// NewRunJob creates a run job. The default schedule is 15:30 on weekdays.
func NewRunJob(schedule string, runner Runner, template hedgefund.Request, log *logger.Logger) *RunJob {
	if schedule == "" {
		schedule = "0 30 15 * * 1-5"
	}
	return &RunJob{
		schedule: schedule,
		runner:   runner,
		template: template,
		now:      time.Now,
		logger:   log.WithField("job", "hedgefund_run"),
	}
}

// Name returns the job name
func (j *RunJob) Name() string { return "hedgefund_run" }

// Schedule returns the cron expression
func (j *RunJob) Schedule() string { return j.schedule }

// Run executes one analysis run
func (j *RunJob) Run(ctx context.Context) error {
	req := j.template
	req.Tickers = append([]string(nil), j.template.Tickers...)
	req.Portfolio = j.template.Portfolio.Clone()
	if req.StartDate == "" || req.EndDate == "" {
		req.StartDate, req.EndDate = hedgefund.DefaultDates(j.now())
	}

	res, err := j.runner.Run(ctx, req, nil)
	if err != nil {
		return fmt.Errorf("scheduled run: %w", err)
	}

	j.mu.Lock()
	j.last = res
	j.mu.Unlock()

	j.logger.WithFields(map[string]interface{}{
		"run_id":    res.RunID,
		"decisions": summarize(res.Decisions),
	}).Info("Scheduled run finished")
	return nil
}

// LastResult returns the latest successful run, nil before the first one
func (j *RunJob) LastResult() *hedgefund.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

func summarize(decisions map[string]contracts.Decision) string {
	tickers := make([]string, 0, len(decisions))
	for t := range decisions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	parts := make([]string, len(tickers))
	for i, t := range tickers {
		d := decisions[t]
		parts[i] = fmt.Sprintf("%s:%s:%d", t, d.Action, d.Quantity)
	}
	return strings.Join(parts, ",")
}

// StatusSource reports provider health
type StatusSource interface {
	ProviderStatus(ctx context.Context, refresh bool) []router.ProviderStatus
}

// HealthRefreshJob re-probes every provider so runs start with fresh health
type HealthRefreshJob struct {
	schedule string
	source   StatusSource
	logger   *logger.Logger
}

// NewHealthRefreshJob creates the job; the default schedule is every 5 minutes
func NewHealthRefreshJob(schedule string, source StatusSource, log *logger.Logger) *HealthRefreshJob {
	if schedule == "" {
		schedule = "0 */5 * * * *"
	}
	return &HealthRefreshJob{schedule: schedule, source: source, logger: log.WithField("job", "provider_health")}
}

// Name returns the job name
func (j *HealthRefreshJob) Name() string { return "provider_health" }

// Schedule returns the cron expression
func (j *HealthRefreshJob) Schedule() string { return j.schedule }

// Run probes providers and fails when none is healthy
func (j *HealthRefreshJob) Run(ctx context.Context) error {
	statuses := j.source.ProviderStatus(ctx, true)

	var healthy, unhealthy []string
	for _, st := range statuses {
		if st.Healthy {
			healthy = append(healthy, st.Name)
		} else {
			unhealthy = append(unhealthy, st.Name)
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"healthy":   healthy,
		"unhealthy": unhealthy,
	}).Debug("Provider health refreshed")

	if len(healthy) == 0 {
		return fmt.Errorf("%w: none of %d providers is healthy", contracts.ErrNoProviderAvailable, len(statuses))
	}
	return nil
}
