package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/kodflow/project-host/src/internal/domain/command"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
	"github.com/kodflow/project-host/src/internal/infrastructure/system"
)

// Stage is a step of command processing.
type Stage string

// Processing stages, in order.
const (
	StageReceived  Stage = "received"
	StageValidated Stage = "validated"
	StageExecuted  Stage = "executed"
)

// CommandService processes privileged commands on the helper side.
type CommandService struct {
	executor system.Executor

	processed atomic.Int64
	failed    atomic.Int64
}

// NewCommandService creates a command service running commands on executor.
func NewCommandService(executor system.Executor) *CommandService {
	return &CommandService{executor: executor}
}

// Process validates and executes cmd. Failures, including panics, are
// reported as error replies; Process itself never fails.
func (s *CommandService) Process(ctx context.Context, cmd command.Command) (reply protocol.Reply) {
	s.processed.Add(1)
	if cmd == nil {
		s.failed.Add(1)
		return protocol.ErrorReply("empty command")
	}

	log := logger.WithField("command", string(cmd.Kind()))
	stage := StageReceived
	log.WithField("stage", stage).Debug("Command received")

	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			log.WithFields(map[string]interface{}{
				"stage": stage,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Command panicked")
			reply = protocol.ErrorReply(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := command.Validate(cmd); err != nil {
		s.failed.Add(1)
		log.WithField("error", err).Warn("Command rejected")
		return protocol.ErrorReply(err.Error())
	}
	stage = StageValidated

	if err := s.executor.Execute(ctx, cmd); err != nil {
		s.failed.Add(1)
		log.WithField("error", err).Error("Command failed")
		return protocol.ErrorReply(err.Error())
	}
	stage = StageExecuted

	log.WithField("stage", stage).Info("Command executed")
	return protocol.OK()
}

// Stats returns how many commands were processed and how many failed.
func (s *CommandService) Stats() (processed, failed int64) {
	return s.processed.Load(), s.failed.Load()
}
