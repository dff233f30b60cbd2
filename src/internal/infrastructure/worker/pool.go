// Package worker provides a bounded worker pool for request handlers and
// scheduled task runs.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
)

// Task represents a unit of work.
type Task func(context.Context)

// Config sizes a pool.
type Config struct {
	// Name tags log entries emitted by the pool.
	Name string
	// Workers is the number of goroutines draining the queue.
	Workers int
	// Backlog is the queue capacity.
	Backlog int
	// TaskTimeout bounds the context handed to each task. Zero means
	// DefaultTaskTimeout.
	TaskTimeout time.Duration
}

// DefaultTaskTimeout bounds a task when Config.TaskTimeout is unset.
const DefaultTaskTimeout = 5 * time.Minute

// Pool manages a pool of workers.
type Pool struct {
	name        string
	workers     int
	tasks       chan Task
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	maxBacklog  int
	taskTimeout time.Duration
	shutdown    bool
	mu          sync.RWMutex
}

// New creates a pool from cfg and starts its workers.
func New(cfg Config) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 100
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}

	p := &Pool{
		name:        cfg.Name,
		workers:     cfg.Workers,
		tasks:       make(chan Task, cfg.Backlog),
		ctx:         ctx,
		cancel:      cancel,
		maxBacklog:  cfg.Backlog,
		taskTimeout: cfg.TaskTimeout,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	return p
}

// worker processes tasks from the queue.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(id, task)
		}
	}
}

// run executes one task with the pool timeout and recovers its panics.
func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"pool":      p.name,
				"worker_id": id,
				"panic":     r,
				"stack":     string(debug.Stack()),
			}).Error("Worker panic recovered")
		}
	}()

	taskCtx, cancel := context.WithTimeout(p.ctx, p.taskTimeout)
	defer cancel()
	task(taskCtx)
}

// Submit adds a task to the pool without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return ErrPoolShutdown
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// SubmitContext adds a task to the pool, waiting for queue space until
// ctx ends.
func (p *Pool) SubmitContext(ctx context.Context, task Task) error {
	// The read lock keeps Shutdown from closing the queue under a
	// blocked send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return ErrPoolShutdown
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	case <-p.ctx.Done():
		return ErrPoolShutdown
	}
}

// Shutdown gracefully shuts down the pool.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		p.cancel()
		return ErrShutdownTimeout
	}
}

// Size returns the number of pending tasks.
func (p *Pool) Size() int {
	return len(p.tasks)
}

// Capacity returns the maximum backlog size.
func (p *Pool) Capacity() int {
	return p.maxBacklog
}

// Errors.
var (
	ErrPoolFull        = errors.New("worker pool is full")
	ErrPoolShutdown    = errors.New("worker pool is shut down")
	ErrTimeout         = errors.New("timeout waiting for worker")
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)
