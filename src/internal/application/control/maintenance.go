package control

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/scheduler"
	"github.com/kodflow/project-host/src/internal/infrastructure/security"
)

// Maintenance job names.
const (
	JobHelperPing        = "helper-ping"
	JobCredentialRefresh = "hosting-credential-refresh"
	JobTokenSweep        = "capability-token-sweep"
	JobHistoryCleanup    = "run-history-cleanup"
)

// CredentialSubject is the bearer subject the control server presents to
// the hosting controller.
const CredentialSubject = security.ControlSubject

// CredentialHolder is a hosting client presenting a rotating credential.
type CredentialHolder interface {
	Hosting
	SetCredential(token string)
}

// RunPruner drops finished runs older than a cutoff.
type RunPruner interface {
	CleanupBefore(cutoff time.Time) int
}

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Issue(subject string) (string, error)
}

// TokenSweeper forgets expired capability tokens and reports how many.
type TokenSweeper interface {
	Sweep() int
}

// HelperPingJob probes the helper at every period. A failed probe drops
// the connection so the next call dials again.
func HelperPingJob(helper Helper, every time.Duration) (*scheduler.IntervalJob, error) {
	return scheduler.NewIntervalJob(JobHelperPing, every, func(ctx context.Context) error {
		if err := helper.Ping(ctx); err != nil {
			return fmt.Errorf("helper ping: %w", err)
		}
		return nil
	})
}

// CredentialRefreshJob signs a fresh bearer token at every period, checks
// that the hosting controller accepts it for the expected subject and then
// makes it the credential the client presents. A rejected token leaves the
// previous credential in place.
func CredentialRefreshJob(hosting CredentialHolder, issuer TokenIssuer, every time.Duration) (*scheduler.IntervalJob, error) {
	return scheduler.NewIntervalJob(JobCredentialRefresh, every, func(ctx context.Context) error {
		token, err := issuer.Issue(CredentialSubject)
		if err != nil {
			return fmt.Errorf("signing credential: %w", err)
		}
		subject, err := hosting.Authenticate(ctx, token)
		if err != nil {
			return fmt.Errorf("hosting rejected credential: %w", err)
		}
		if subject != CredentialSubject {
			return fmt.Errorf("hosting authenticated %q, want %q", subject, CredentialSubject)
		}
		hosting.SetCredential(token)
		logger.WithField("subject", subject).Debug("Hosting credential refreshed")
		return nil
	})
}

// TokenSweepJob drops expired capability tokens on a cron schedule. The
// sweep is idempotent, so runs may overlap.
func TokenSweepJob(tokens TokenSweeper, expr string) (*scheduler.CronJob, error) {
	job, err := scheduler.NewCronJob(JobTokenSweep, expr, func(context.Context) error {
		if n := tokens.Sweep(); n > 0 {
			logger.WithField("swept", n).Info("Expired capability tokens dropped")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job.Concurrent(), nil
}

// HistoryCleanupJob forgets finished runs older than retention on a cron
// schedule.
func HistoryCleanupJob(runs RunPruner, retention time.Duration, expr string, clk clock.Clock) (*scheduler.CronJob, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("history retention must be positive, got %v", retention)
	}
	return scheduler.NewCronJob(JobHistoryCleanup, expr, func(context.Context) error {
		if n := runs.CleanupBefore(clk.Now().Add(-retention)); n > 0 {
			logger.WithField("dropped", n).Info("Old scheduled runs forgotten")
		}
		return nil
	})
}
