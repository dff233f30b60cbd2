// Package main is the control-side runner. It drives the maintenance
// schedule against the helper and hosting endpoints and offers a few
// operator commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/juju/clock"

	"github.com/kodflow/project-host/src/internal/application/cli"
	"github.com/kodflow/project-host/src/internal/application/control"
	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/infrastructure/config"
	"github.com/kodflow/project-host/src/internal/infrastructure/console"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/security"
)

const binary = "project-ctl"

const usage = `Commands:
  run                  run the maintenance schedule (default)
  probe                ping the helper and hosting endpoints
  issue-token PROJECT  print a bearer token for a project hook (see --token-ttl)
  init-tls DIR         prepare a certificate directory
`

func main() {
	cli.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	opts := cli.NewOptions(binary, "Control-side maintenance runner for project-host\n\n"+usage)
	timeout := opts.Flags().Duration("timeout", 10*time.Second, "deadline of probe calls")
	tokenTTL := opts.Flags().Duration("token-ttl", 30*24*time.Hour, "lifetime of tokens printed by issue-token")
	if err := opts.Parse(args); err != nil {
		return err
	}

	cmd, rest := "run", opts.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	if cmd == "init-tls" {
		if len(rest) != 1 {
			return errors.New("init-tls needs a directory")
		}
		if err := config.SetupCertificateDirectory(rest[0]); err != nil {
			return err
		}
		console.Success("Certificate directory ready: %s", rest[0])
		return nil
	}

	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}

	switch cmd {
	case "run":
		return runSchedule(cfg)
	case "probe":
		return probe(cfg, *timeout)
	case "issue-token":
		if len(rest) != 1 {
			return errors.New("issue-token needs a project slug")
		}
		return issueToken(cfg, rest[0], *tokenTTL)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func runSchedule(cfg *config.Config) error {
	cli.InitLogger(binary, cfg)
	defer logger.Close()

	rt, err := control.NewRuntime(cfg, control.RuntimeOptions{})
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	runErr := rt.Run(ctx)
	if err := rt.Shutdown(30 * time.Second); err != nil {
		logger.Errorf("Shutdown failed: %v", err)
	}
	return runErr
}

func probe(cfg *config.Config, timeout time.Duration) error {
	rt, err := control.NewRuntime(cfg, control.RuntimeOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Shutdown(time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results := rt.Probe(ctx)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	console.Heading("Endpoints")
	failed := 0
	for _, name := range names {
		if err := results[name]; err != nil {
			failed++
			console.Failure("%s: %v", name, err)
			continue
		}
		console.Success("%s: pong", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d endpoint(s) unreachable", failed)
	}
	return nil
}

func issueToken(cfg *config.Config, project string, ttl time.Duration) error {
	if err := cfg.RequireSecret(); err != nil {
		return err
	}
	slug, err := entity.ParseSlug(project)
	if err != nil {
		return err
	}
	auth, err := security.NewBearerAuthenticator(cfg.Secret, ttl, clock.WallClock)
	if err != nil {
		return err
	}
	token, err := auth.IssueFor(slug.String(), ttl)
	if err != nil {
		return err
	}
	console.Println(token)
	return nil
}
