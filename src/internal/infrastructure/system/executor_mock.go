package system

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockCommandRunner is a mock implementation for testing.
type MockCommandRunner struct {
	mu sync.Mutex

	// Commands records all executed commands
	Commands []MockExecutedCommand
	// ShouldFail determines if commands should fail
	ShouldFail bool
	// FailureMessage is the error message when ShouldFail is true
	FailureMessage string
	// OutputMap maps commands to their mock outputs
	OutputMap map[string][]byte
	// ErrorMap maps commands to their mock errors
	ErrorMap map[string]error
	// Handler, when set, is consulted first. It reports whether it
	// handled the command.
	Handler func(command string, args []string) (bool, []byte, error)
}

// MockExecutedCommand represents a command that was executed by the mock runner.
type MockExecutedCommand struct {
	Command string
	Args    []string
}

// String returns the command line.
func (c MockExecutedCommand) String() string {
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

// NewMockCommandRunner creates a new mock command runner.
func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{
		Commands:  make([]MockExecutedCommand, 0),
		OutputMap: make(map[string][]byte),
		ErrorMap:  make(map[string]error),
	}
}

func mockKey(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return fmt.Sprintf("%s %v", command, args)
}

// RunCommand mocks command execution without output.
func (m *MockCommandRunner) RunCommand(ctx context.Context, command string, args ...string) error {
	_, err := m.RunCommandWithOutput(ctx, command, args...)
	return err
}

// RunCommandWithOutput mocks command execution with output.
func (m *MockCommandRunner) RunCommandWithOutput(ctx context.Context, command string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, MockExecutedCommand{
		Command: command,
		Args:    append([]string(nil), args...),
	})
	handler := m.Handler
	m.mu.Unlock()

	// Check context cancellation
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if handler != nil {
		if handled, out, err := handler(command, args); handled {
			return out, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		return nil, fmt.Errorf("mock error: %s", m.FailureMessage)
	}

	key := mockKey(command, args)
	if err, ok := m.ErrorMap[key]; ok {
		return m.OutputMap[key], err
	}
	if output, ok := m.OutputMap[key]; ok {
		return output, nil
	}

	// Default output
	return []byte(fmt.Sprintf("mock output for: %s %v", command, args)), nil
}

// Reset clears the mock state.
func (m *MockCommandRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = make([]MockExecutedCommand, 0)
	m.ShouldFail = false
	m.FailureMessage = ""
	m.OutputMap = make(map[string][]byte)
	m.ErrorMap = make(map[string]error)
	m.Handler = nil
}

// SetOutput sets the mock output for a specific command, keyed as
// "command [arg1 arg2]".
func (m *MockCommandRunner) SetOutput(command string, output []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutputMap[command] = output
}

// SetError sets the mock error for a specific command.
func (m *MockCommandRunner) SetError(command string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorMap[command] = err
}

// GetExecutedCommands returns a copy of all executed commands.
func (m *MockCommandRunner) GetExecutedCommands() []MockExecutedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockExecutedCommand(nil), m.Commands...)
}

// CommandLines returns every executed command as a single line.
func (m *MockCommandRunner) CommandLines() []string {
	cmds := m.GetExecutedCommands()
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.String()
	}
	return lines
}

// FakeMounter records bind mounts in memory.
type FakeMounter struct {
	mu     sync.Mutex
	mounts map[string]FakeMount

	// FailWith, when set, is returned by BindMount and Unmount.
	FailWith error
}

// FakeMount is one mount recorded by FakeMounter.
type FakeMount struct {
	Source   string
	ReadOnly bool
}

// NewFakeMounter returns an empty FakeMounter.
func NewFakeMounter() *FakeMounter {
	return &FakeMounter{mounts: make(map[string]FakeMount)}
}

// IsMounted reports whether target has a recorded mount.
func (f *FakeMounter) IsMounted(target string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.mounts[target]
	return ok, nil
}

// BindMount records a mount of source on target.
func (f *FakeMounter) BindMount(source, target string, readOnly bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	if _, ok := f.mounts[target]; ok {
		return fmt.Errorf("bind mount %s: target busy", target)
	}
	f.mounts[target] = FakeMount{Source: source, ReadOnly: readOnly}
	return nil
}

// Unmount removes the mount recorded on target.
func (f *FakeMounter) Unmount(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWith != nil {
		return f.FailWith
	}
	if _, ok := f.mounts[target]; !ok {
		return fmt.Errorf("unmount %s: not mounted", target)
	}
	delete(f.mounts, target)
	return nil
}

// Mount returns the mount recorded on target.
func (f *FakeMounter) Mount(target string) (FakeMount, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mounts[target]
	return m, ok
}

// Targets returns every mounted target, sorted.
func (f *FakeMounter) Targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	targets := make([]string, 0, len(f.mounts))
	for t := range f.mounts {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// MountsUnder returns the mounted targets at or below root, deepest first.
func (f *FakeMounter) MountsUnder(root string) ([]string, error) {
	var under []string
	targets := f.Targets()
	for i := len(targets) - 1; i >= 0; i-- {
		if within(root, targets[i]) {
			under = append(under, targets[i])
		}
	}
	return under, nil
}
