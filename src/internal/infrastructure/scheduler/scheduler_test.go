package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/infrastructure/store"
	"github.com/kodflow/project-host/src/internal/infrastructure/worker"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, clk *testclock.Clock) *Scheduler {
	t.Helper()
	pool := worker.New(worker.Config{Name: "scheduler-test", Workers: 4, Backlog: 16})
	t.Cleanup(func() { _ = pool.Shutdown(5 * time.Second) })

	s, err := New(Config{Clock: clk, Pool: pool, Runs: store.NewRunStore(0)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func start(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func mustInterval(t *testing.T, name string, every time.Duration, fn RunFunc) *IntervalJob {
	t.Helper()
	job, err := NewIntervalJob(name, every, fn)
	if err != nil {
		t.Fatalf("NewIntervalJob() error = %v", err)
	}
	return job
}

func receive(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("ran %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func countStatus(runs []*entity.TaskRun, status entity.RunStatus) int {
	n := 0
	for _, r := range runs {
		if r.Status() == status {
			n++
		}
	}
	return n
}

func stateOf(s *Scheduler, name string) (TaskState, bool) {
	for _, st := range s.Snapshot() {
		if st.Name == name {
			return st, true
		}
	}
	return TaskState{}, false
}

func TestScheduler_RunsDueTasks(t *testing.T) {
	clk := testclock.NewClock(epoch)
	s := newScheduler(t, clk)

	ran := make(chan string, 8)
	record := func(name string) RunFunc {
		return func(context.Context) error {
			ran <- name
			return nil
		}
	}
	if err := s.Add(mustInterval(t, "t1", 30*time.Second, record("t1")), epoch); err != nil {
		t.Fatalf("Add(t1) error = %v", err)
	}
	if err := s.Add(mustInterval(t, "t2", 30*time.Second, record("t2")), epoch.Add(10*time.Second)); err != nil {
		t.Fatalf("Add(t2) error = %v", err)
	}

	start(t, s)
	receive(t, ran, "t1")

	if err := clk.WaitAdvance(10*time.Second, 5*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	receive(t, ran, "t2")

	st, ok := stateOf(s, "t1")
	if !ok {
		t.Fatal("t1 missing from Snapshot()")
	}
	if !st.NextRun.After(epoch) {
		t.Errorf("t1 NextRun = %v, want after %v", st.NextRun, epoch)
	}
	if want := epoch.Add(30 * time.Second); !st.NextRun.Equal(want) {
		t.Errorf("t1 NextRun = %v, want %v", st.NextRun, want)
	}

	waitUntil(t, "two completed runs", func() bool {
		return countStatus(s.Runs().History(""), entity.RunStatusCompleted) == 2
	})
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	clk := testclock.NewClock(epoch)
	s := newScheduler(t, clk)

	started := make(chan string, 4)
	release := make(chan struct{})
	released := false
	defer func() {
		if !released {
			close(release)
		}
	}()

	slow := mustInterval(t, "slow", 10*time.Second, func(context.Context) error {
		started <- "slow"
		<-release
		return nil
	})
	if err := s.Add(slow, epoch); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	start(t, s)
	receive(t, started, "slow")

	if err := clk.WaitAdvance(10*time.Second, 5*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	waitUntil(t, "a skipped tick", func() bool {
		return countStatus(s.Runs().History("slow"), entity.RunStatusSkipped) == 1
	})
	select {
	case <-started:
		t.Fatal("job was invoked again while still running")
	default:
	}
	if st, _ := stateOf(s, "slow"); !st.Running || st.Active != 1 {
		t.Errorf("state = %+v, want one active run", st)
	}

	close(release)
	released = true
	waitUntil(t, "the first run to complete", func() bool {
		return countStatus(s.Runs().History("slow"), entity.RunStatusCompleted) == 1
	})

	if err := clk.WaitAdvance(10*time.Second, 5*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	receive(t, started, "slow")
}

func TestScheduler_ConcurrentJobOverlaps(t *testing.T) {
	clk := testclock.NewClock(epoch)
	s := newScheduler(t, clk)

	started := make(chan string, 4)
	release := make(chan struct{})
	defer close(release)

	warm := mustInterval(t, "warm", 10*time.Second, func(context.Context) error {
		started <- "warm"
		<-release
		return nil
	}).Concurrent()
	if err := s.Add(warm, epoch); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	start(t, s)
	receive(t, started, "warm")
	if err := clk.WaitAdvance(10*time.Second, 5*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	receive(t, started, "warm")

	if st, _ := stateOf(s, "warm"); st.Active != 2 || !st.AllowConcurrent {
		t.Errorf("state = %+v, want two active runs", st)
	}
}

func TestScheduler_FailedRunDoesNotStarve(t *testing.T) {
	clk := testclock.NewClock(epoch)
	s := newScheduler(t, clk)

	ran := make(chan string, 4)
	calls := 0
	flaky := mustInterval(t, "flaky", time.Minute, func(context.Context) error {
		calls++
		ran <- "flaky"
		if calls == 1 {
			panic("refresh exploded")
		}
		return errors.New("helper unreachable")
	})
	if err := s.Add(flaky, epoch); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	start(t, s)
	receive(t, ran, "flaky")
	waitUntil(t, "the panicked run to be recorded", func() bool {
		return countStatus(s.Runs().History("flaky"), entity.RunStatusFailed) == 1
	})
	if err := s.Runs().History("flaky")[0].Err(); err == nil || !strings.Contains(err.Error(), "refresh exploded") {
		t.Errorf("Err() = %v, want the panic message", err)
	}

	if err := clk.WaitAdvance(time.Minute, 5*time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}
	receive(t, ran, "flaky")
	waitUntil(t, "the second failure", func() bool {
		return countStatus(s.Runs().History("flaky"), entity.RunStatusFailed) == 2
	})
}

func TestScheduler_AddRules(t *testing.T) {
	clk := testclock.NewClock(epoch)
	s := newScheduler(t, clk)
	noop := func(context.Context) error { return nil }

	if err := s.Add(mustInterval(t, "ping", 30*time.Second, noop), time.Time{}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if st, _ := stateOf(s, "ping"); !st.NextRun.Equal(epoch.Add(30 * time.Second)) {
		t.Errorf("NextRun = %v, want one period after now", st.NextRun)
	}

	if err := s.Add(mustInterval(t, "ping", time.Minute, noop), time.Time{}); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("Add(duplicate) error = %v, want ErrDuplicateTask", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := s.Run(ctx); !errors.Is(err, ErrStarted) {
		t.Errorf("second Run() error = %v, want ErrStarted", err)
	}
	if err := s.Add(mustInterval(t, "late", time.Minute, noop), time.Time{}); !errors.Is(err, ErrStarted) {
		t.Errorf("Add() after Run error = %v, want ErrStarted", err)
	}
}

func TestNew_RequiresPool(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without a pool should fail")
	}
}

func TestJobConstructors(t *testing.T) {
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name    string
		build   func() (Job, error)
		wantErr bool
		next    time.Duration
	}{
		{"interval", func() (Job, error) { return NewIntervalJob("a", time.Minute, noop) }, false, time.Minute},
		{"interval zero period", func() (Job, error) { return NewIntervalJob("a", 0, noop) }, true, 0},
		{"interval nil func", func() (Job, error) { return NewIntervalJob("a", time.Minute, nil) }, true, 0},
		{"interval empty name", func() (Job, error) { return NewIntervalJob("", time.Minute, noop) }, true, 0},
		{"cron every", func() (Job, error) { return NewCronJob("sweep", "@every 5m", noop) }, false, 5 * time.Minute},
		{"cron hourly", func() (Job, error) { return NewCronJob("sweep", "0 * * * *", noop) }, false, time.Hour},
		{"cron invalid", func() (Job, error) { return NewCronJob("sweep", "every tuesday", noop) }, true, 0},
		{"cron nil func", func() (Job, error) { return NewCronJob("sweep", "@hourly", nil) }, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := tt.build()
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := job.Next(epoch); !got.Equal(epoch.Add(tt.next)) {
				t.Errorf("Next(%v) = %v, want %v", epoch, got, epoch.Add(tt.next))
			}
			if job.AllowConcurrent() {
				t.Error("jobs refuse overlap by default")
			}
		})
	}
}
