package scheduler

import (
	"context"
	"time"
)

// Job is one piece of recurring work.
// ⭐ SSOT: the scheduled job contract is defined only here
type Job interface {
	Name() string
	// Schedule is a six-field cron spec ("0 30 15 * * 1-5") or a descriptor ("@every 5m")
	Schedule() string
	Run(ctx context.Context) error
}

// JobResult records one execution including its retries.
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

const historyLimit = 100

// JobHistory keeps the last historyLimit results of a job, oldest first.
// The scheduler's mutex guards it.
type JobHistory struct {
	Results []JobResult `json:"results"`
	ok      int
}

func (h *JobHistory) AddResult(r JobResult) {
	if len(h.Results) == historyLimit {
		if h.Results[0].Success {
			h.ok--
		}
		h.Results = append(h.Results[:0], h.Results[1:]...)
	}
	h.Results = append(h.Results, r)
	if r.Success {
		h.ok++
	}
}

// Latest copies the n most recent results, oldest first.
func (h *JobHistory) Latest(n int) []JobResult {
	n = max(0, min(n, len(h.Results)))
	return append([]JobResult{}, h.Results[len(h.Results)-n:]...)
}

func (h *JobHistory) SuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0
	}
	return float64(h.ok) / float64(len(h.Results))
}

// Stats summarizes the retained results of a job.
func (h *JobHistory) Stats(name, schedule string) JobStats {
	st := JobStats{
		JobName:      name,
		Schedule:     schedule,
		TotalRuns:    len(h.Results),
		SuccessCount: h.ok,
		FailureCount: len(h.Results) - h.ok,
		SuccessRate:  h.SuccessRate(),
	}
	if n := len(h.Results); n > 0 {
		last := h.Results[n-1]
		st.LastRun = &last.StartTime
		st.LastError = last.Error
	}
	return st
}

// JobStats is the summary exposed by Scheduler.Stats
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}
