// Package main is the hosting controller. It reloads and stops serving
// projects on request of the control server and checks bearer tokens.
package main

import (
	"os"
	"time"

	"github.com/juju/clock"

	"github.com/kodflow/project-host/src/internal/application/cli"
	"github.com/kodflow/project-host/src/internal/application/handler"
	"github.com/kodflow/project-host/src/internal/domain/service"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
	"github.com/kodflow/project-host/src/internal/infrastructure/ratelimit"
	"github.com/kodflow/project-host/src/internal/infrastructure/security"
	"github.com/kodflow/project-host/src/internal/infrastructure/store"
	"github.com/kodflow/project-host/src/internal/infrastructure/system"
	"github.com/kodflow/project-host/src/internal/infrastructure/worker"
)

const binary = "project-hosting"

func main() {
	cli.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	opts := cli.NewOptions(binary, "Hosting controller for project-host")
	if err := opts.Parse(args); err != nil {
		return err
	}
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireSecret(); err != nil {
		return err
	}
	cli.InitLogger(binary, cfg)
	defer logger.Close()

	auth, err := security.NewBearerAuthenticator(cfg.Secret, cfg.Scheduler.CredentialTTL, clock.WallClock)
	if err != nil {
		return err
	}
	// Hooks run unprivileged, as the controller itself.
	runner, err := system.NewCommandRunner("", system.DefaultCommandTimeout)
	if err != nil {
		return err
	}
	hosting := service.NewHostingService(service.HostingConfig{
		Served:        store.NewServedStore(),
		Runner:        runner,
		Authenticator: auth,
		Clock:         clock.WallClock,
		ReloadCommand: cfg.Hosting.ReloadCommand,
		StopCommand:   cfg.Hosting.StopCommand,
	})

	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.Hosting.RequestsPerSecond,
		Burst:             cfg.Hosting.Burst,
	}, clock.WallClock)
	defer limiter.Stop()

	pool := worker.New(worker.Config{Name: "hosting", Workers: cfg.Hosting.Workers, Backlog: cfg.Hosting.Workers * 16})
	defer func() {
		if err := pool.Shutdown(30 * time.Second); err != nil {
			logger.Errorf("Failed to shutdown worker pool: %v", err)
		}
	}()

	tlsConfig, err := cfg.TLS.ServerConfig()
	if err != nil {
		return err
	}
	ln, err := protocol.Listen(cfg.Hosting.Address, tlsConfig, 0)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	logger.WithFields(map[string]interface{}{
		"address":             cfg.Hosting.Address,
		"tls":                 tlsConfig != nil,
		"requests_per_second": cfg.Hosting.RequestsPerSecond,
		"burst":               cfg.Hosting.Burst,
		"workers":             cfg.Hosting.Workers,
	}).Info("Hosting controller ready")

	err = handler.NewHostingServer(hosting, pool, limiter).Serve(ctx, ln)
	logger.WithFields(map[string]interface{}{
		"served":  len(hosting.Served()),
		"limiter": limiter.Stats(),
	}).Info("Hosting controller stopped")
	return err
}
