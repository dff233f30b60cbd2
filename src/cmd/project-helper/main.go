// Package main is the privileged helper daemon. It listens on a Unix
// socket and executes user, project, ACL, mount and snapshot commands for
// the control server.
package main

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/kodflow/project-host/src/internal/application/cli"
	"github.com/kodflow/project-host/src/internal/application/handler"
	"github.com/kodflow/project-host/src/internal/domain/service"
	"github.com/kodflow/project-host/src/internal/infrastructure/config"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
	"github.com/kodflow/project-host/src/internal/infrastructure/system"
	"github.com/kodflow/project-host/src/internal/infrastructure/worker"
)

const binary = "project-helper"

func main() {
	cli.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	opts := cli.NewOptions(binary, "Privileged helper executing project-host commands")
	if err := opts.Parse(args); err != nil {
		return err
	}
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	cli.InitLogger(binary, cfg)
	defer logger.Close()

	commands, err := newCommandService(cfg)
	if err != nil {
		return err
	}
	allowed, err := serviceUID(cfg.Helper.ServiceUser)
	if err != nil {
		return err
	}

	pool := worker.New(worker.Config{Name: "helper", Workers: cfg.Helper.Workers, Backlog: cfg.Helper.Workers * 16})
	defer func() {
		if err := pool.Shutdown(30 * time.Second); err != nil {
			logger.Errorf("Failed to shutdown worker pool: %v", err)
		}
	}()

	ln, err := protocol.Listen(cfg.Helper.Socket, nil, os.FileMode(cfg.Helper.SocketMode))
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	logger.WithFields(map[string]interface{}{
		"socket":       cfg.Helper.Socket,
		"service_user": cfg.Helper.ServiceUser,
		"workers":      cfg.Helper.Workers,
		"snapshots":    cfg.Snapshots.Driver,
	}).Info("Helper ready")

	err = handler.NewHelperServer(commands, pool, allowed).Serve(ctx, ln)
	if err == nil || ctx.Err() != nil {
		processed, failed := commands.Stats()
		logger.WithFields(map[string]interface{}{"processed": processed, "failed": failed}).Info("Helper stopped")
	}
	return err
}

func newCommandService(cfg *config.Config) (*service.CommandService, error) {
	runner, err := system.NewCommandRunner(system.DetectPrivilegeCommand(), system.DefaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	snapshots, err := system.NewSnapshotDriver(cfg.Snapshots.Driver, runner)
	if err != nil {
		return nil, err
	}
	executor, err := system.NewPrivilegedExecutor(system.ExecutorConfig{
		Layout:      system.Layout(cfg.Layout),
		ServiceUser: cfg.Helper.ServiceUser,
		Runner:      runner,
		Mounter:     system.NewUnixMounter(),
		Snapshots:   snapshots,
	})
	if err != nil {
		return nil, err
	}
	return service.NewCommandService(executor), nil
}

// serviceUID resolves the account the control server runs as; only it and
// root may use the socket.
func serviceUID(name string) (uint32, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("looking up service user: %w", err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("service user %s has non-numeric uid %q", name, u.Uid)
	}
	return uint32(uid), nil
}

