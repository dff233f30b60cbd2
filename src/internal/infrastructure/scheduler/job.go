package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a recurring unit of work.
type Job interface {
	// Name identifies the job in logs and run history. It must be unique
	// within a scheduler.
	Name() string
	// Run performs one execution.
	Run(ctx context.Context) error
	// Next returns the first due time strictly after now.
	Next(now time.Time) time.Time
	// AllowConcurrent reports whether a new execution may start while a
	// previous one is still running.
	AllowConcurrent() bool
}

// RunFunc is the body of a job.
type RunFunc func(ctx context.Context) error

// IntervalJob runs at a fixed period.
type IntervalJob struct {
	name       string
	every      time.Duration
	run        RunFunc
	concurrent bool
}

// NewIntervalJob creates a job running fn every period.
func NewIntervalJob(name string, every time.Duration, fn RunFunc) (*IntervalJob, error) {
	if name == "" {
		return nil, fmt.Errorf("interval job: empty name")
	}
	if every <= 0 {
		return nil, fmt.Errorf("interval job %s: period must be positive, got %s", name, every)
	}
	if fn == nil {
		return nil, fmt.Errorf("interval job %s: nil run function", name)
	}
	return &IntervalJob{name: name, every: every, run: fn}, nil
}

// Concurrent lets executions of j overlap.
func (j *IntervalJob) Concurrent() *IntervalJob {
	j.concurrent = true
	return j
}

func (j *IntervalJob) Name() string                  { return j.name }
func (j *IntervalJob) Run(ctx context.Context) error { return j.run(ctx) }
func (j *IntervalJob) Next(now time.Time) time.Time  { return now.Add(j.every) }
func (j *IntervalJob) AllowConcurrent() bool         { return j.concurrent }

// CronJob runs on a cron schedule. Standard five-field expressions and
// descriptors such as "@hourly" or "@every 5m" are accepted.
type CronJob struct {
	name       string
	expr       string
	schedule   cron.Schedule
	run        RunFunc
	concurrent bool
}

// NewCronJob parses expr and creates a job running fn on it.
func NewCronJob(name, expr string, fn RunFunc) (*CronJob, error) {
	if name == "" {
		return nil, fmt.Errorf("cron job: empty name")
	}
	if fn == nil {
		return nil, fmt.Errorf("cron job %s: nil run function", name)
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("cron job %s: parsing %q: %w", name, expr, err)
	}
	return &CronJob{name: name, expr: expr, schedule: schedule, run: fn}, nil
}

// Concurrent lets executions of j overlap.
func (j *CronJob) Concurrent() *CronJob {
	j.concurrent = true
	return j
}

// Expression returns the schedule expression j was built from.
func (j *CronJob) Expression() string { return j.expr }

func (j *CronJob) Name() string                  { return j.name }
func (j *CronJob) Run(ctx context.Context) error { return j.run(ctx) }
func (j *CronJob) Next(now time.Time) time.Time  { return j.schedule.Next(now) }
func (j *CronJob) AllowConcurrent() bool         { return j.concurrent }
