// Package system applies privileged changes to the host: principals,
// project trees, ACLs, bind mounts and snapshots.
package system

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
)

// DefaultCommandTimeout bounds a single external tool invocation.
const DefaultCommandTimeout = 2 * time.Minute

// CommandRunner is an interface for executing system commands.
// This allows for easy mocking in tests.
type CommandRunner interface {
	RunCommand(ctx context.Context, command string, args ...string) error
	RunCommandWithOutput(ctx context.Context, command string, args ...string) ([]byte, error)
}

// RealCommandRunner executes actual system commands, optionally through a
// privilege escalation tool.
type RealCommandRunner struct {
	privilegeCmd string
	timeout      time.Duration
}

// NewCommandRunner returns a runner that prefixes every command with
// privilegeCmd ("sudo", "doas" or "" to run directly).
func NewCommandRunner(privilegeCmd string, timeout time.Duration) (*RealCommandRunner, error) {
	switch privilegeCmd {
	case "", "sudo", "doas":
	default:
		return nil, fmt.Errorf("unsupported privilege escalation method: %s", privilegeCmd)
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &RealCommandRunner{privilegeCmd: privilegeCmd, timeout: timeout}, nil
}

// DetectPrivilegeCommand returns "" when running as root, otherwise the
// first of doas or sudo found on PATH.
func DetectPrivilegeCommand() string {
	if unix.Geteuid() == 0 {
		return ""
	}
	for _, cmd := range []string{"doas", "sudo"} {
		if _, err := exec.LookPath(cmd); err == nil {
			return cmd
		}
	}
	return ""
}

func (r *RealCommandRunner) command(ctx context.Context, command string, args []string) *exec.Cmd {
	if r.privilegeCmd == "" {
		return exec.CommandContext(ctx, command, args...) //nolint:gosec // commands are built by the executor only
	}
	fullArgs := append([]string{command}, args...)
	return exec.CommandContext(ctx, r.privilegeCmd, fullArgs...) //nolint:gosec // privilege cmd is validated
}

// RunCommand executes a command without capturing output.
func (r *RealCommandRunner) RunCommand(ctx context.Context, command string, args ...string) error {
	_, err := r.RunCommandWithOutput(ctx, command, args...)
	return err
}

// RunCommandWithOutput executes a command and returns its combined output.
func (r *RealCommandRunner) RunCommandWithOutput(ctx context.Context, command string, args ...string) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	logger.WithFields(map[string]interface{}{
		"command": command,
		"args":    strings.Join(args, " "),
	}).Debug("Executing command")

	output, err := r.command(cmdCtx, command, args).CombinedOutput()
	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return output, fmt.Errorf("%s timed out after %v", command, r.timeout)
		}
		return output, fmt.Errorf("%s failed: %w, output: %s", command, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}
