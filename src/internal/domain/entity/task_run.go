package entity

import (
	"sync"
	"time"
)

// RunStatus is the lifecycle state of one scheduled task execution.
type RunStatus string

// Run status values.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// TaskRun records one execution, or one skipped tick, of a scheduled task.
// It is safe for concurrent use.
type TaskRun struct {
	ID        string
	Task      string
	StartTime time.Time

	mu      sync.RWMutex
	status  RunStatus
	endTime *time.Time
	err     error
}

// NewTaskRun creates a pending run started at the given instant.
func NewTaskRun(id, task string, start time.Time) *TaskRun {
	return &TaskRun{
		ID:        id,
		Task:      task,
		StartTime: start,
		status:    RunStatusPending,
	}
}

// SetRunning marks the run as executing.
func (r *TaskRun) SetRunning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = RunStatusRunning
}

// SetCompleted marks the run as finished successfully.
func (r *TaskRun) SetCompleted(end time.Time) {
	r.finish(RunStatusCompleted, end, nil)
}

// SetFailed marks the run as finished with an error.
func (r *TaskRun) SetFailed(end time.Time, err error) {
	r.finish(RunStatusFailed, end, err)
}

// SetSkipped marks a tick that found the previous execution still running.
func (r *TaskRun) SetSkipped(end time.Time) {
	r.finish(RunStatusSkipped, end, nil)
}

func (r *TaskRun) finish(status RunStatus, end time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.endTime = &end
	r.err = err
}

// Status returns the current status.
func (r *TaskRun) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// EndTime returns when the run finished, or nil while it is in flight.
func (r *TaskRun) EndTime() *time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endTime
}

// Err returns the failure of a failed run.
func (r *TaskRun) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// IsRunning reports whether the run is still executing.
func (r *TaskRun) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status == RunStatusRunning
}
