package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/clock"

	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/domain/hosting"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/protocol"
	"github.com/kodflow/project-host/src/internal/infrastructure/security"
	"github.com/kodflow/project-host/src/internal/infrastructure/store"
	"github.com/kodflow/project-host/src/internal/infrastructure/system"
)

// HostingConfig wires a HostingService.
type HostingConfig struct {
	Served        *store.ServedStore
	Runner        system.CommandRunner
	Authenticator security.Authenticator
	Clock         clock.Clock
	// ReloadCommand and StopCommand run before the served state changes.
	// The placeholders {project} and {dir} are replaced by the project
	// display name and its filesystem name.
	ReloadCommand []string
	StopCommand   []string
}

// HostingService processes hosting actions on the controller side.
type HostingService struct {
	served    *store.ServedStore
	runner    system.CommandRunner
	auth      security.Authenticator
	clock     clock.Clock
	reloadCmd []string
	stopCmd   []string
}

// NewHostingService creates a hosting service.
func NewHostingService(cfg HostingConfig) *HostingService {
	if cfg.Served == nil {
		cfg.Served = store.NewServedStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &HostingService{
		served:    cfg.Served,
		runner:    cfg.Runner,
		auth:      cfg.Authenticator,
		clock:     cfg.Clock,
		reloadCmd: cfg.ReloadCommand,
		stopCmd:   cfg.StopCommand,
	}
}

// Process applies a hosting action and returns its reply.
func (s *HostingService) Process(ctx context.Context, action hosting.Action) (reply protocol.Reply) {
	if action == nil {
		return protocol.ErrorReply("empty action")
	}
	log := logger.WithField("action", string(action.Kind()))

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Hosting action panicked")
			reply = protocol.ErrorReply(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := hosting.Validate(action); err != nil {
		log.WithField("error", err).Warn("Hosting action rejected")
		return protocol.ErrorReply(err.Error())
	}

	switch a := action.(type) {
	case hosting.Ping:
		return protocol.OK()

	case hosting.ReloadProject:
		if err := s.authorize(a.Token); err != nil {
			log.WithField("error", err).Warn("Reload refused")
			return protocol.ErrorReply(err.Error())
		}
		if err := s.runHook(ctx, s.reloadCmd, a.Project); err != nil {
			log.WithField("error", err).Error("Reload hook failed")
			return protocol.ErrorReply(err.Error())
		}
		p := s.served.MarkReloaded(a.Project, s.clock.Now())
		log.WithFields(map[string]interface{}{
			"project": a.Project.String(),
			"reloads": p.Reloads,
		}).Info("Project reloaded")
		return protocol.OK()

	case hosting.StopServingProject:
		if err := s.authorize(a.Token); err != nil {
			log.WithField("error", err).Warn("Stop refused")
			return protocol.ErrorReply(err.Error())
		}
		if err := s.runHook(ctx, s.stopCmd, a.Project); err != nil {
			log.WithField("error", err).Error("Stop hook failed")
			return protocol.ErrorReply(err.Error())
		}
		if s.served.Stop(a.Project) {
			log.WithField("project", a.Project.String()).Info("Project no longer served")
		}
		return protocol.OK()

	case hosting.Authenticate:
		if s.auth == nil {
			return protocol.ErrorReply("authentication is not configured")
		}
		subject, err := s.auth.Authenticate(a.Token)
		if err != nil {
			log.Warn("Authentication failed")
			return protocol.ErrorReply("authentication failed")
		}
		ok, err := protocol.OKWith(subject)
		if err != nil {
			return protocol.ErrorReply(err.Error())
		}
		return ok

	default:
		return protocol.ErrorReply(fmt.Sprintf("unsupported hosting action %s", action.Kind()))
	}
}

// Served lists the projects currently served.
func (s *HostingService) Served() []store.ServedProject {
	return s.served.List()
}

// authorize checks the control credential carried by a state-changing
// action. Without an authenticator every caller is trusted.
func (s *HostingService) authorize(token string) error {
	if s.auth == nil {
		return nil
	}
	if token == "" {
		return fmt.Errorf("credential required")
	}
	subject, err := s.auth.Authenticate(token)
	if err != nil {
		return fmt.Errorf("credential rejected: %w", err)
	}
	if subject != security.ControlSubject {
		return fmt.Errorf("credential subject %q may not change served projects", subject)
	}
	return nil
}

func (s *HostingService) runHook(ctx context.Context, hook []string, project entity.Slug) error {
	if len(hook) == 0 || s.runner == nil {
		return nil
	}
	replacer := strings.NewReplacer("{project}", project.String(), "{dir}", project.FSName())
	args := make([]string, len(hook)-1)
	for i, arg := range hook[1:] {
		args[i] = replacer.Replace(arg)
	}
	if err := s.runner.RunCommand(ctx, hook[0], args...); err != nil {
		return fmt.Errorf("hook %s for %s: %w", hook[0], project, err)
	}
	return nil
}
