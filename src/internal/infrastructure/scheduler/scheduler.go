// Package scheduler runs recurring maintenance jobs on a worker pool.
//
// A single loop owns a min-heap of tasks ordered by their next due time.
// It pops the earliest task, starts it when due, computes the next due
// time and pushes it back. A task that refuses overlap and is still
// running when it comes due is skipped for that tick.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/security"
	"github.com/kodflow/project-host/src/internal/infrastructure/store"
	"github.com/kodflow/project-host/src/internal/infrastructure/worker"
)

// DefaultIdleInterval is how long the loop sleeps when it has no task.
const DefaultIdleInterval = time.Minute

// Errors.
var (
	ErrStarted       = errors.New("scheduler already started")
	ErrDuplicateTask = errors.New("duplicate task name")
)

// Config wires a Scheduler.
type Config struct {
	Clock clock.Clock
	Pool  *worker.Pool
	// Runs receives every execution and skipped tick. Optional.
	Runs *store.RunStore
	// IdleInterval bounds the sleep of an empty scheduler. Zero means
	// DefaultIdleInterval.
	IdleInterval time.Duration
}

// TaskState is a read-only view of a scheduled task.
type TaskState struct {
	Name            string
	NextRun         time.Time
	Running         bool
	Active          int
	AllowConcurrent bool
}

// Scheduler runs jobs at the times they ask for.
type Scheduler struct {
	clock clock.Clock
	pool  *worker.Pool
	runs  *store.RunStore
	idle  time.Duration

	mu      sync.Mutex
	tasks   taskHeap
	names   map[string]bool
	started bool
}

// New creates a scheduler. Jobs must be added before Run.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("scheduler: worker pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Runs == nil {
		cfg.Runs = store.NewRunStore(0)
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	return &Scheduler{
		clock: cfg.Clock,
		pool:  cfg.Pool,
		runs:  cfg.Runs,
		idle:  cfg.IdleInterval,
		names: make(map[string]bool),
	}, nil
}

// Add schedules job with its first run at first. A zero first lets the
// job pick it from the current time.
func (s *Scheduler) Add(job Job, first time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrStarted
	}
	if s.names[job.Name()] {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, job.Name())
	}
	if first.IsZero() {
		first = job.Next(s.clock.Now())
	}

	s.names[job.Name()] = true
	heap.Push(&s.tasks, &task{job: job, nextRun: first})
	return nil
}

// Runs returns the run history store.
func (s *Scheduler) Runs() *store.RunStore {
	return s.runs
}

// Run drives the schedule until ctx ends. Executions already handed to
// the pool are left to finish there.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	count := len(s.tasks)
	s.mu.Unlock()

	logger.WithField("tasks", count).Info("Scheduler started")
	defer logger.Info("Scheduler stopped")

	for {
		wait := s.tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}
	}
}

// tick starts every due task and returns how long to sleep.
func (s *Scheduler) tick(ctx context.Context) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.tasks) > 0 {
		now := s.clock.Now()
		next := s.tasks[0]
		if now.Before(next.nextRun) {
			return next.nextRun.Sub(now)
		}

		t := heap.Pop(&s.tasks).(*task)
		s.fire(ctx, t, now)

		t.nextRun = t.job.Next(now)
		if !t.nextRun.After(now) {
			logger.WithField("task", t.job.Name()).Warn("Job returned a past due time, delaying")
			t.nextRun = now.Add(s.idle)
		}
		heap.Push(&s.tasks, t)
	}
	return s.idle
}

// fire starts one execution of t, or records a skipped tick when t is
// still running and refuses overlap.
func (s *Scheduler) fire(ctx context.Context, t *task, now time.Time) {
	name := t.job.Name()
	run := entity.NewTaskRun(security.NewRunID(), name, now)
	log := logger.WithFields(map[string]interface{}{
		"task":   name,
		"run_id": run.ID,
	})

	concurrent := t.job.AllowConcurrent()
	if !concurrent && t.active.Load() > 0 {
		s.runs.RecordSkipped(run, now)
		log.Warn("Previous run still in flight, skipping")
		return
	}

	t.active.Add(1)
	if concurrent {
		run.SetRunning()
	} else {
		s.runs.TryStart(run)
	}

	err := s.pool.Submit(func(taskCtx context.Context) {
		err := s.execute(taskCtx, t)
		end := s.clock.Now()
		s.runs.Finish(run, end, err)
		if err != nil {
			log.WithField("error", err).Error("Scheduled run failed")
			return
		}
		log.WithField("duration", end.Sub(now).String()).Debug("Scheduled run completed")
	})
	if err != nil {
		t.active.Add(-1)
		s.runs.Finish(run, now, fmt.Errorf("submitting run: %w", err))
		log.WithField("error", err).Error("Could not submit scheduled run")
	}
}

// execute runs the job once. The active count drops on every exit path,
// panics included.
func (s *Scheduler) execute(ctx context.Context, t *task) (err error) {
	defer t.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return t.job.Run(ctx)
}

// Snapshot returns the state of every task, earliest due first.
func (s *Scheduler) Snapshot() []TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskState, 0, len(s.tasks))
	for _, t := range s.tasks {
		active := int(t.active.Load())
		out = append(out, TaskState{
			Name:            t.job.Name(),
			NextRun:         t.nextRun,
			Running:         active > 0,
			Active:          active,
			AllowConcurrent: t.job.AllowConcurrent(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out
}
