// Package store provides in-memory state kept by the daemons: scheduled
// task run history and the set of projects being served.
package store

import (
	"sync"
	"time"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

// DefaultMaxHistory is the number of finished runs kept per store.
const DefaultMaxHistory = 100

// RunStore tracks in-flight and finished task runs.
type RunStore struct {
	// In-flight run per task name.
	current map[string]*entity.TaskRun
	// Finished runs, oldest first.
	history    []*entity.TaskRun
	mu         sync.RWMutex
	maxHistory int
}

// NewRunStore creates a run store keeping at most maxHistory finished
// runs. A non-positive value selects DefaultMaxHistory.
func NewRunStore(maxHistory int) *RunStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &RunStore{
		current:    make(map[string]*entity.TaskRun),
		history:    make([]*entity.TaskRun, 0),
		maxHistory: maxHistory,
	}
}

// TryStart marks run as running and records it as the in-flight run of
// its task. It returns false when another run of the same task is still
// running.
func (s *RunStore) TryStart(run *entity.TaskRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.current[run.Task]; ok && cur.IsRunning() {
		return false
	}

	run.SetRunning()
	s.current[run.Task] = run
	return true
}

// Finish records the end of run. Runs started with TryStart leave the
// in-flight set; concurrent runs that never entered it go straight to the
// history.
func (s *RunStore) Finish(run *entity.TaskRun, end time.Time, err error) {
	if err != nil {
		run.SetFailed(end, err)
	} else {
		run.SetCompleted(end)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.current[run.Task]; ok && cur == run {
		delete(s.current, run.Task)
	}
	s.addToHistory(run)
}

// RecordSkipped stores a tick that was not executed because the previous
// run was still in flight.
func (s *RunStore) RecordSkipped(run *entity.TaskRun, at time.Time) {
	run.SetSkipped(at)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.addToHistory(run)
}

// Current returns the in-flight run of task, if any.
func (s *RunStore) Current(task string) *entity.TaskRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current[task]
}

// History returns the finished runs of task, newest first. An empty task
// name returns every run.
func (s *RunStore) History(task string) []*entity.TaskRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.TaskRun, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		if task == "" || s.history[i].Task == task {
			out = append(out, s.history[i])
		}
	}
	return out
}

// addToHistory appends a finished run and trims the oldest entries.
func (s *RunStore) addToHistory(run *entity.TaskRun) {
	s.history = append(s.history, run)

	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// CleanupBefore drops finished runs started before cutoff and returns how
// many were dropped.
func (s *RunStore) CleanupBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*entity.TaskRun, 0, len(s.history))
	for _, run := range s.history {
		if !run.StartTime.Before(cutoff) {
			kept = append(kept, run)
		}
	}
	dropped := len(s.history) - len(kept)
	s.history = kept
	return dropped
}
