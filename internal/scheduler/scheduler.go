package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/pkg/logger"
)

// Scheduler runs jobs on cron schedules with retries
// ⭐ SSOT: scheduled execution happens only here
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	jobs    map[string]Job
	entries map[string]cron.EntryID
	history map[string]*JobHistory
	mu      sync.RWMutex

	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithRetries sets how often a failed job is retried and the delay between attempts
func WithRetries(n int, delay time.Duration) Option {
	return func(s *Scheduler) {
		s.maxRetries = max(0, n)
		s.retryDelay = delay
	}
}

// WithJobTimeout bounds one attempt
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// New creates a scheduler; jobs run with second-level cron precision
func New(log *logger.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		logger:     log.Component("scheduler"),
		jobs:       make(map[string]Job),
		entries:    make(map[string]cron.EntryID),
		history:    make(map[string]*JobHistory),
		maxRetries: 2,
		retryDelay: time.Minute,
		timeout:    30 * time.Minute,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob schedules job. Names are unique.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already exists", name)
	}

	id, err := s.cron.AddFunc(job.Schedule(), func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = job
	s.entries[name] = id
	s.history[name] = &JobHistory{}

	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")
	return nil
}

// RemoveJob unschedules a job; its history is kept
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.entries[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	delete(s.entries, name)

	s.logger.WithField("job", name).Info("Job removed from scheduler")
	return nil
}

// Start begins firing schedules
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// RunNow executes a job synchronously outside its schedule
func (s *Scheduler) RunNow(name string) (JobResult, error) {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return JobResult{}, fmt.Errorf("job %s not found", name)
	}
	return s.execute(job), nil
}

func (s *Scheduler) execute(job Job) JobResult {
	s.wg.Add(1)
	defer s.wg.Done()

	name := job.Name()
	result := JobResult{JobName: name, StartTime: time.Now()}
	log := s.logger.WithField("job", name)
	log.Info("Job started")

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		result.Attempts = attempt + 1

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		lastErr = job.Run(ctx)
		cancel()

		if lastErr == nil || !retryable(lastErr) || s.ctx.Err() != nil {
			break
		}
		log.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		}).Warn("Job execution failed, retrying")

		if attempt < s.maxRetries {
			select {
			case <-time.After(s.retryDelay):
			case <-s.ctx.Done():
			}
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = lastErr == nil
	if lastErr != nil {
		result.Error = lastErr.Error()
	}

	s.mu.Lock()
	if h, ok := s.history[name]; ok {
		h.AddResult(result)
	}
	s.mu.Unlock()

	if result.Success {
		log.WithField("duration", result.Duration.String()).Info("Job completed successfully")
	} else {
		log.WithFields(map[string]interface{}{
			"duration": result.Duration.String(),
			"attempts": result.Attempts,
			"error":    result.Error,
		}).Error("Job failed")
	}
	return result
}

// bad arguments and cancellation never succeed on retry
func retryable(err error) bool {
	return !errors.Is(err, contracts.ErrPrecondition) &&
		!errors.Is(err, context.Canceled)
}

// History returns a copy of a job's results
func (s *Scheduler) History(name string) ([]JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.history[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return h.Latest(historyLimit), nil
}

// Jobs returns scheduled job names, sorted
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats summarizes every scheduled job
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]JobStats, len(s.jobs))
	for name, job := range s.jobs {
		out[name] = s.history[name].Stats(name, job.Schedule())
	}
	return out
}
