package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/domain/service"
	"github.com/kodflow/project-host/src/internal/infrastructure/config"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/rpcclient"
	"github.com/kodflow/project-host/src/internal/infrastructure/scheduler"
	"github.com/kodflow/project-host/src/internal/infrastructure/security"
	"github.com/kodflow/project-host/src/internal/infrastructure/store"
	"github.com/kodflow/project-host/src/internal/infrastructure/system"
	"github.com/kodflow/project-host/src/internal/infrastructure/worker"
)

// Runtime holds every long-lived object of the control side. It is built
// once by NewRuntime and passed explicitly; nothing here is global.
//
// Initialization order:
//  1. bearer authenticator and capability issuer (need the secret)
//  2. helper and hosting clients (lazy, nothing is dialled yet); the
//     hosting client gets its first control credential
//  3. authorizer and dispatcher
//  4. worker pool, scheduler and maintenance jobs
//
// Shutdown releases them in reverse.
type Runtime struct {
	Config     *config.Config
	Bearer     *security.BearerAuthenticator
	Tokens     *security.CapabilityIssuer
	Helper     *rpcclient.HelperClient
	Hosting    *rpcclient.HostingClient
	Dispatcher *Dispatcher
	Scheduler  *scheduler.Scheduler

	pool  *worker.Pool
	clock clock.Clock
}

// JobStatus summarizes one maintenance job from the scheduler state and
// the run history.
type JobStatus struct {
	scheduler.TaskState
	// InFlight is the id of the tracked in-flight run, if any.
	InFlight string
	// Last is the newest finished or skipped run.
	Last *entity.TaskRun
	// Failures counts the failed runs still in the history.
	Failures int
}

// Status is a point-in-time view of the maintenance schedule.
type Status struct {
	Jobs []JobStatus
	// Pending and Backlog describe the maintenance pool queue.
	Pending int
	Backlog int
}

// RuntimeOptions holds the optional collaborators of a Runtime.
type RuntimeOptions struct {
	Clock clock.Clock
	Files FileHandler
	// HelperDial and HostingDial override how the endpoints are reached.
	HelperDial  rpcclient.DialFunc
	HostingDial rpcclient.DialFunc
}

// NewRuntime builds the control side from cfg.
func NewRuntime(cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	if err := cfg.RequireSecret(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}

	bearer, err := security.NewBearerAuthenticator(cfg.Secret, cfg.Scheduler.CredentialTTL, opts.Clock)
	if err != nil {
		return nil, err
	}
	tokens, err := security.NewCapabilityIssuer(cfg.Secret, cfg.Scheduler.CapabilityTTL, opts.Clock)
	if err != nil {
		return nil, err
	}

	if opts.HelperDial == nil {
		opts.HelperDial = rpcclient.DialerFor(nil)
	}
	if opts.HostingDial == nil {
		tlsConfig, err := cfg.TLS.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("hosting TLS: %w", err)
		}
		opts.HostingDial = rpcclient.DialerFor(tlsConfig)
	}
	helper := rpcclient.NewHelperClient(cfg.Helper.Socket, opts.HelperDial)
	hosting := rpcclient.NewHostingClient(cfg.Hosting.Address, opts.HostingDial)
	credential, err := bearer.Issue(CredentialSubject)
	if err != nil {
		return nil, fmt.Errorf("signing hosting credential: %w", err)
	}
	hosting.SetCredential(credential)

	authz := service.NewAuthorizer(bearer, tokens)
	dispatcher := NewDispatcher(authz, helper, hosting, opts.Files, system.Layout(cfg.Layout))

	pool := worker.New(worker.Config{
		Name:    "maintenance",
		Workers: cfg.Scheduler.Workers,
		Backlog: cfg.Scheduler.Workers * 4,
	})
	sched, err := scheduler.New(scheduler.Config{
		Clock: opts.Clock,
		Pool:  pool,
		Runs:  store.NewRunStore(cfg.Scheduler.RunHistory),
	})
	if err != nil {
		_ = pool.Shutdown(time.Second) //nolint:errcheck // already failing
		return nil, err
	}

	rt := &Runtime{
		Config:     cfg,
		Bearer:     bearer,
		Tokens:     tokens,
		Helper:     helper,
		Hosting:    hosting,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		pool:       pool,
		clock:      opts.Clock,
	}
	if err := rt.addJobs(); err != nil {
		_ = rt.Shutdown(time.Second) //nolint:errcheck // already failing
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) addJobs() error {
	ping, err := HelperPingJob(r.Helper, r.Config.Scheduler.HelperPing)
	if err != nil {
		return err
	}
	refresh, err := CredentialRefreshJob(r.Hosting, r.Bearer, r.Config.Scheduler.CredentialRefresh)
	if err != nil {
		return err
	}
	sweep, err := TokenSweepJob(r.Tokens, r.Config.Scheduler.TokenSweep)
	if err != nil {
		return err
	}
	cleanup, err := HistoryCleanupJob(r.Scheduler.Runs(), r.Config.Scheduler.HistoryRetention, r.Config.Scheduler.HistoryCleanup, r.clock)
	if err != nil {
		return err
	}

	for _, job := range []scheduler.Job{ping, refresh, sweep, cleanup} {
		if err := r.Scheduler.Add(job, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the maintenance schedule until ctx ends.
func (r *Runtime) Run(ctx context.Context) error {
	return r.Scheduler.Run(ctx)
}

// Probe pings both endpoints once.
func (r *Runtime) Probe(ctx context.Context) map[string]error {
	return map[string]error{
		"helper":  r.Helper.Ping(ctx),
		"hosting": r.Hosting.Ping(ctx),
	}
}

// Status reports every scheduled job, earliest due first.
func (r *Runtime) Status() Status {
	runs := r.Scheduler.Runs()
	states := r.Scheduler.Snapshot()

	st := Status{
		Jobs:    make([]JobStatus, 0, len(states)),
		Pending: r.pool.Size(),
		Backlog: r.pool.Capacity(),
	}
	for _, state := range states {
		js := JobStatus{TaskState: state}
		if cur := runs.Current(state.Name); cur != nil && cur.IsRunning() {
			js.InFlight = cur.ID
		}
		for i, run := range runs.History(state.Name) {
			if i == 0 {
				js.Last = run
			}
			if run.Status() == entity.RunStatusFailed {
				js.Failures++
			}
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

func (r *Runtime) logStatus() {
	st := r.Status()
	logger.WithFields(map[string]interface{}{
		"pending": st.Pending,
		"backlog": st.Backlog,
	}).Info("Maintenance pool")
	for _, job := range st.Jobs {
		fields := map[string]interface{}{
			"job":      job.Name,
			"next_run": job.NextRun.Format(time.RFC3339),
			"failures": job.Failures,
		}
		if job.InFlight != "" {
			fields["in_flight"] = job.InFlight
		}
		if job.Last != nil {
			fields["last_status"] = string(job.Last.Status())
			if err := job.Last.Err(); err != nil {
				fields["last_error"] = err.Error()
			}
		}
		logger.WithFields(fields).Info("Maintenance job")
	}
}

// Shutdown logs the schedule status, drains the maintenance pool and
// closes both clients.
func (r *Runtime) Shutdown(timeout time.Duration) error {
	logger.Info("Shutting down control runtime")
	r.logStatus()

	var errs []error
	if err := r.pool.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("maintenance pool: %w", err))
	}
	if err := r.Hosting.Close(); err != nil {
		errs = append(errs, fmt.Errorf("hosting client: %w", err))
	}
	if err := r.Helper.Close(); err != nil {
		errs = append(errs, fmt.Errorf("helper client: %w", err))
	}
	return errors.Join(errs...)
}
