// Package control is the control-server side of the command channel: it
// authorizes caller actions and turns them into helper commands and
// hosting actions.
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/system"
)

// ErrNoFileHandler is returned for file actions when no FileHandler is
// configured.
var ErrNoFileHandler = errors.New("file actions are not configured")

// Helper is the privileged helper as seen by the dispatcher.
type Helper interface {
	SetACL(ctx context.Context, path string, user entity.Slug, readOnly bool) error
	RemoveACL(ctx context.Context, path string, user entity.Slug) error
	BindMount(ctx context.Context, source, target string, readOnly bool) error
	Unmount(ctx context.Context, target string) error
	CreateSnapshot(ctx context.Context, project entity.Slug, name string) error
	DeleteSnapshot(ctx context.Context, project entity.Slug, name string) error
	RestoreSnapshot(ctx context.Context, project entity.Slug, name string) error
	MountSnapshot(ctx context.Context, project entity.Slug, name string) error
	UnmountProd(ctx context.Context, project entity.Slug) error
	DeleteProject(ctx context.Context, project entity.Slug) error
	Ping(ctx context.Context) error
}

// Hosting is the hosting controller as seen by the dispatcher.
type Hosting interface {
	Reload(ctx context.Context, project entity.Slug) error
	StopServing(ctx context.Context, project entity.Slug) error
	Authenticate(ctx context.Context, token string) (string, error)
	Ping(ctx context.Context) error
}

// FileHandler performs the unprivileged file, listing and git actions on
// behalf of principal. Git pulls triggered by a machine caller have a zero
// principal.
type FileHandler interface {
	Handle(ctx context.Context, principal entity.Slug, action entity.Action) (any, error)
}

// Authorizer checks a grant against an action.
type Authorizer interface {
	Authorize(ctx context.Context, grant entity.Grant, action entity.Action) error
}

// Result is the outcome of a dispatched action.
type Result struct {
	Kind entity.ActionKind
	// Data is what the file handler returned, nil for privileged actions.
	Data any
}

// Dispatcher routes authorized actions to their collaborators.
type Dispatcher struct {
	authz   Authorizer
	helper  Helper
	hosting Hosting
	files   FileHandler
	layout  system.Layout
}

// NewDispatcher creates a dispatcher. files may be nil when only
// privileged actions are dispatched.
func NewDispatcher(authz Authorizer, helper Helper, hosting Hosting, files FileHandler, layout system.Layout) *Dispatcher {
	return &Dispatcher{
		authz:   authz,
		helper:  helper,
		hosting: hosting,
		files:   files,
		layout:  layout,
	}
}

// Dispatch authorizes action for grant and performs it. Nothing reaches
// the helper or the hosting controller when authorization fails.
func (d *Dispatcher) Dispatch(ctx context.Context, grant entity.Grant, action entity.Action) (Result, error) {
	if err := d.authz.Authorize(ctx, grant, action); err != nil {
		return Result{}, err
	}

	log := logger.WithFields(map[string]interface{}{
		"action":  string(action.Kind()),
		"project": action.Target().String(),
	})

	result := Result{Kind: action.Kind()}
	var err error
	switch a := action.(type) {
	case entity.GrantPermission:
		err = d.grant(ctx, a.Project, a.User, a.Level)
	case entity.UpdatePermission:
		err = d.update(ctx, a.Project, a.User, a.Level)
	case entity.RevokePermission:
		err = d.revoke(ctx, a.Project, a.User)

	case entity.CreateSnapshot:
		err = d.helper.CreateSnapshot(ctx, a.Project, a.Name)
	case entity.DeleteSnapshot:
		err = d.helper.DeleteSnapshot(ctx, a.Project, a.Name)
	case entity.RestoreSnapshot:
		err = d.thenReload(ctx, a.Project, d.helper.RestoreSnapshot(ctx, a.Project, a.Name))
	case entity.MountSnapshotProd:
		err = d.thenReload(ctx, a.Project, d.helper.MountSnapshot(ctx, a.Project, a.Name))
	case entity.UnmountProd:
		if err = d.hosting.StopServing(ctx, a.Project); err == nil {
			err = d.helper.UnmountProd(ctx, a.Project)
		}
	case entity.DeleteProject:
		if err = d.hosting.StopServing(ctx, a.Project); err == nil {
			err = d.helper.DeleteProject(ctx, a.Project)
		}

	case entity.GitPull, entity.HookGitPull:
		result.Data, err = d.handleFile(ctx, grant.Principal, action)
		err = d.thenReload(ctx, action.Target(), err)

	default:
		result.Data, err = d.handleFile(ctx, grant.Principal, action)
	}

	if err != nil {
		log.WithField("error", err).Error("Action failed")
		return Result{}, fmt.Errorf("%s on %s: %w", action.Kind(), action.Target(), err)
	}
	log.Info("Action dispatched")
	return result, nil
}

func (d *Dispatcher) handleFile(ctx context.Context, principal entity.Slug, action entity.Action) (any, error) {
	if d.files == nil {
		return nil, ErrNoFileHandler
	}
	return d.files.Handle(ctx, principal, action)
}

// thenReload reloads project once a previous step succeeded.
func (d *Dispatcher) thenReload(ctx context.Context, project entity.Slug, err error) error {
	if err != nil {
		return err
	}
	return d.hosting.Reload(ctx, project)
}

// grant gives user an ACL on the project tree and mounts it into the
// user's projects directory. Read grants are mounted read-only.
func (d *Dispatcher) grant(ctx context.Context, project, user entity.Slug, level entity.Permission) error {
	src := d.layout.ProjectDir(project)
	readOnly := level == entity.PermissionRead

	if err := d.helper.SetACL(ctx, src, user, readOnly); err != nil {
		return err
	}
	return d.helper.BindMount(ctx, src, d.layout.UserProjectView(user, project), readOnly)
}

// update replaces the ACL and remounts the user's view with the new mode.
func (d *Dispatcher) update(ctx context.Context, project, user entity.Slug, level entity.Permission) error {
	if err := d.helper.Unmount(ctx, d.layout.UserProjectView(user, project)); err != nil {
		return err
	}
	return d.grant(ctx, project, user, level)
}

// revoke removes the user's view before dropping the ACL.
func (d *Dispatcher) revoke(ctx context.Context, project, user entity.Slug) error {
	if err := d.helper.Unmount(ctx, d.layout.UserProjectView(user, project)); err != nil {
		return err
	}
	return d.helper.RemoveACL(ctx, d.layout.ProjectDir(project), user)
}
