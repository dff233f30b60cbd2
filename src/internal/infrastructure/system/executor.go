package system

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kodflow/project-host/src/internal/domain/command"
	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
)

// Distribution represents a Linux distribution type.
type Distribution string

// Supported Linux distributions.
const (
	DistroAlpine  Distribution = "alpine"
	DistroDebian  Distribution = "debian"
	DistroUbuntu  Distribution = "ubuntu"
	DistroRHEL    Distribution = "rhel"
	DistroFedora  Distribution = "fedora"
	DistroArch    Distribution = "arch"
	DistroUnknown Distribution = "unknown"
)

// Executor errors.
var (
	// ErrSnapshotNotFound is returned when a command needs a snapshot that
	// does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrNameCollision is returned when the filesystem name of a slug is
	// already owned by a different slug, as with a1-23 and a12-3.
	ErrNameCollision = errors.New("filesystem name belongs to another slug")
)

const (
	// ownerMarker records, in the snapshot directory of a project, the
	// slug that owns the project's filesystem name.
	ownerMarker = ".owner"
	// partialPrefix names snapshot trees still being written. Snapshot
	// names start with an alphanumeric, so no snapshot can collide.
	partialPrefix = ".partial-"
)

// Executor applies privileged commands to the host.
type Executor interface {
	Execute(ctx context.Context, cmd command.Command) error
}

// ExecutorConfig wires a PrivilegedExecutor.
type ExecutorConfig struct {
	Layout       Layout
	ServiceUser  string
	Runner       CommandRunner
	Mounter      Mounter
	Snapshots    SnapshotDriver
	Distribution Distribution
}

// PrivilegedExecutor implements every command family. Each command is
// idempotent: re-applying it after success is a no-op. Commands touching
// the same project or user are serialized so that check-then-act
// sequences stay consistent; unrelated commands run in parallel.
type PrivilegedExecutor struct {
	layout      Layout
	serviceUser string
	runner      CommandRunner
	mounter     Mounter
	snapshots   SnapshotDriver
	distro      Distribution

	locks keyedLocks
}

// NewPrivilegedExecutor validates cfg and returns an executor.
func NewPrivilegedExecutor(cfg ExecutorConfig) (*PrivilegedExecutor, error) {
	if cfg.Runner == nil || cfg.Mounter == nil {
		return nil, errors.New("executor needs a command runner and a mounter")
	}
	if cfg.ServiceUser == "" {
		return nil, errors.New("executor needs a service user")
	}
	for _, root := range cfg.Layout.roots() {
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("layout root %q is not absolute", root)
		}
	}
	if cfg.Snapshots == nil {
		cfg.Snapshots = &CopyDriver{runner: cfg.Runner}
	}
	if cfg.Distribution == "" {
		cfg.Distribution = DetectDistribution("/etc/os-release")
	}
	return &PrivilegedExecutor{
		layout:      cfg.Layout,
		serviceUser: cfg.ServiceUser,
		runner:      cfg.Runner,
		mounter:     cfg.Mounter,
		snapshots:   cfg.Snapshots,
		distro:      cfg.Distribution,
	}, nil
}

// Layout returns the directory layout the executor manages.
func (e *PrivilegedExecutor) Layout() Layout {
	return e.layout
}

// Execute applies cmd.
func (e *PrivilegedExecutor) Execute(ctx context.Context, cmd command.Command) error {
	if _, ok := cmd.(command.Ping); ok {
		return nil
	}

	unlock := e.locks.lock(e.lockKeys(cmd)...)
	defer unlock()

	switch c := cmd.(type) {
	case command.CreateUser:
		return e.createUser(ctx, c.User)
	case command.DeleteUser:
		return e.deleteUser(ctx, c.User)
	case command.CreateProject:
		return e.createProject(ctx, c.Project)
	case command.DeleteProject:
		return e.deleteProject(ctx, c.Project)
	case command.SetACL:
		return e.setACL(ctx, c.Path, c.User, c.ReadOnly)
	case command.RemoveACL:
		return e.removeACL(ctx, c.Path, c.User)
	case command.BindMount:
		return e.bindMount(c.Source, c.Target, c.ReadOnly)
	case command.Unmount:
		return e.unmount(c.Target)
	case command.CreateSnapshot:
		return e.createSnapshot(ctx, c.Project, c.Name)
	case command.DeleteSnapshot:
		return e.deleteSnapshot(ctx, c.Project, c.Name)
	case command.RestoreSnapshot:
		return e.restoreSnapshot(ctx, c.Project, c.Name)
	case command.MountSnapshot:
		return e.mountSnapshot(c.Project, c.Name)
	case command.UnmountProd:
		return e.unmountProd(c.Project)
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
}

// lockKeys names the projects and users cmd touches.
func (e *PrivilegedExecutor) lockKeys(cmd command.Command) []string {
	switch c := cmd.(type) {
	case command.CreateUser:
		return []string{userKey(c.User)}
	case command.DeleteUser:
		return []string{userKey(c.User)}
	case command.CreateProject:
		return []string{projectKey(c.Project)}
	case command.DeleteProject:
		return []string{projectKey(c.Project)}
	case command.SetACL:
		return []string{e.layout.lockKey(c.Path)}
	case command.RemoveACL:
		return []string{e.layout.lockKey(c.Path)}
	case command.BindMount:
		return []string{e.layout.lockKey(c.Source), e.layout.lockKey(c.Target)}
	case command.Unmount:
		return []string{e.layout.lockKey(c.Target)}
	case command.CreateSnapshot:
		return []string{projectKey(c.Project)}
	case command.DeleteSnapshot:
		return []string{projectKey(c.Project)}
	case command.RestoreSnapshot:
		return []string{projectKey(c.Project)}
	case command.MountSnapshot:
		return []string{projectKey(c.Project)}
	case command.UnmountProd:
		return []string{projectKey(c.Project)}
	}
	return nil
}

// Users

// lookupUser reports whether the account name exists and returns the
// comment field of its passwd entry, which holds the owning slug.
func (e *PrivilegedExecutor) lookupUser(ctx context.Context, name string) (owner string, exists bool) {
	out, err := e.runner.RunCommandWithOutput(ctx, "getent", "passwd", name)
	if err != nil {
		return "", false
	}
	fields := strings.Split(strings.TrimSpace(string(out)), ":")
	if len(fields) >= 5 {
		owner = fields[4]
	}
	return owner, true
}

// checkUserOwner refuses an account created for another slug. Accounts
// without a comment predate the check and are accepted.
func checkUserOwner(user entity.Slug, owner string) error {
	if owner != "" && owner != user.String() {
		return fmt.Errorf("user %s: account %s is owned by %s: %w", user, user.FSName(), owner, ErrNameCollision)
	}
	return nil
}

func (e *PrivilegedExecutor) createUser(ctx context.Context, user entity.Slug) error {
	name := user.FSName()
	home := e.layout.HomeDir(user)
	projects := e.layout.UserProjectsDir(user)

	owner, exists := e.lookupUser(ctx, name)
	if err := checkUserOwner(user, owner); err != nil {
		return err
	}
	if !exists {
		var err error
		if e.distro == DistroAlpine {
			err = e.runner.RunCommand(ctx, "adduser", "-D", "-H", "-h", home, "-s", "/sbin/nologin",
				"-g", user.String(), name)
		} else {
			err = e.runner.RunCommand(ctx, "useradd", "--user-group", "--no-create-home",
				"--home-dir", home, "--shell", "/usr/sbin/nologin", "--comment", user.String(), name)
		}
		if err != nil {
			return fmt.Errorf("creating user %s: %w", name, err)
		}
		logger.WithField("user", name).Info("User created")
	}

	if err := os.MkdirAll(projects, 0750); err != nil {
		return fmt.Errorf("creating home of %s: %w", name, err)
	}
	if err := e.runner.RunCommand(ctx, "chown", name+":"+name, home, projects); err != nil {
		return fmt.Errorf("chown home of %s: %w", name, err)
	}
	return nil
}

func (e *PrivilegedExecutor) deleteUser(ctx context.Context, user entity.Slug) error {
	name := user.FSName()
	home := e.layout.HomeDir(user)

	owner, exists := e.lookupUser(ctx, name)
	if err := checkUserOwner(user, owner); err != nil {
		return err
	}

	mounts, err := e.mounter.MountsUnder(home)
	if err != nil {
		return err
	}
	for _, target := range mounts {
		if err := e.mounter.Unmount(target); err != nil {
			return err
		}
	}

	if exists {
		if e.distro == DistroAlpine {
			err = e.runner.RunCommand(ctx, "deluser", name)
		} else {
			err = e.runner.RunCommand(ctx, "userdel", name)
		}
		if err != nil {
			return fmt.Errorf("deleting user %s: %w", name, err)
		}
		logger.WithField("user", name).Info("User deleted")
	}

	if err := os.RemoveAll(home); err != nil {
		return fmt.Errorf("removing home of %s: %w", name, err)
	}
	return nil
}

// Projects

// checkProjectOwner refuses a project whose filesystem name is recorded
// for another slug. Projects without a marker predate the check.
func (e *PrivilegedExecutor) checkProjectOwner(project entity.Slug) error {
	data, err := os.ReadFile(filepath.Join(e.layout.SnapshotDir(project), ownerMarker))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading owner of %s: %w", project, err)
	}
	if owner := strings.TrimSpace(string(data)); owner != project.String() {
		return fmt.Errorf("project %s: %s is owned by %s: %w", project, project.FSName(), owner, ErrNameCollision)
	}
	return nil
}

func (e *PrivilegedExecutor) createProject(ctx context.Context, project entity.Slug) error {
	if err := e.checkProjectOwner(project); err != nil {
		return err
	}
	dir := e.layout.ProjectDir(project)
	if err := os.MkdirAll(dir, 0770); err != nil {
		return fmt.Errorf("creating project %s: %w", project, err)
	}
	snapDir := e.layout.SnapshotDir(project)
	if err := os.MkdirAll(snapDir, 0750); err != nil {
		return fmt.Errorf("creating snapshot directory of %s: %w", project, err)
	}
	if err := os.WriteFile(filepath.Join(snapDir, ownerMarker), []byte(project.String()+"\n"), 0640); err != nil {
		return fmt.Errorf("recording owner of %s: %w", project, err)
	}

	svc := e.serviceUser
	if err := e.runner.RunCommand(ctx, "chown", svc+":"+svc, dir); err != nil {
		return fmt.Errorf("chown project %s: %w", project, err)
	}
	acl := fmt.Sprintf("u:%s:rwx,d:u:%s:rwx", svc, svc)
	if err := e.runner.RunCommand(ctx, "setfacl", "-m", acl, dir); err != nil {
		return fmt.Errorf("granting service access to %s: %w", project, err)
	}
	return nil
}

func (e *PrivilegedExecutor) deleteProject(ctx context.Context, project entity.Slug) error {
	if err := e.checkProjectOwner(project); err != nil {
		return err
	}
	if err := e.unmountProd(project); err != nil {
		return err
	}

	// Views of the project bind-mounted into user homes.
	mounts, err := e.mounter.MountsUnder(e.layout.HomeRoot)
	if err != nil {
		return err
	}
	for _, target := range mounts {
		if filepath.Base(target) == project.FSName() && filepath.Base(filepath.Dir(target)) == "projects" {
			if err := e.mounter.Unmount(target); err != nil {
				return err
			}
			_ = os.Remove(target)
		}
	}

	snapDir := e.layout.SnapshotDir(project)
	entries, err := os.ReadDir(snapDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("listing snapshots of %s: %w", project, err)
	}
	for _, entry := range entries {
		path := filepath.Join(snapDir, entry.Name())
		switch {
		case entry.Name() == ownerMarker:
		case strings.HasPrefix(entry.Name(), partialPrefix):
			if err := e.discard(ctx, path); err != nil {
				return err
			}
		default:
			if err := e.snapshots.Delete(ctx, path); err != nil {
				return err
			}
		}
	}

	for _, dir := range []string{snapDir, e.layout.ProjectDir(project), e.layout.ProdDir(project)} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	logger.WithField("project", project.String()).Info("Project deleted")
	return nil
}

// ACLs

func (e *PrivilegedExecutor) setACL(ctx context.Context, path string, user entity.Slug, readOnly bool) error {
	if err := e.layout.CheckPath("path", path); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("set acl: %w", err)
	}

	perms := "rwX"
	if readOnly {
		perms = "rX"
	}
	name := user.FSName()
	spec := fmt.Sprintf("u:%s:%s,d:u:%s:%s", name, perms, name, perms)
	if err := e.runner.RunCommand(ctx, "setfacl", "-R", "-m", spec, path); err != nil {
		return fmt.Errorf("set acl for %s on %s: %w", name, path, err)
	}
	return nil
}

func (e *PrivilegedExecutor) removeACL(ctx context.Context, path string, user entity.Slug) error {
	if err := e.layout.CheckPath("path", path); err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.WithField("path", path).Debug("ACL target already gone")
		return nil
	}

	name := user.FSName()
	out, err := e.runner.RunCommandWithOutput(ctx, "getfacl", "--omit-header", "--absolute-names", path)
	if err != nil {
		return fmt.Errorf("reading acl of %s: %w", path, err)
	}

	access, def := aclEntries(out, name)
	var specs []string
	if access {
		specs = append(specs, "u:"+name)
	}
	if def {
		specs = append(specs, "d:u:"+name)
	}
	if len(specs) == 0 {
		return nil
	}

	if err := e.runner.RunCommand(ctx, "setfacl", "-R", "-x", strings.Join(specs, ","), path); err != nil {
		return fmt.Errorf("remove acl for %s on %s: %w", name, path, err)
	}
	return nil
}

// aclEntries reports whether getfacl output holds an access entry and a
// default entry for name.
func aclEntries(out []byte, name string) (access, def bool) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "user:"+name+":"):
			access = true
		case strings.HasPrefix(line, "default:user:"+name+":"):
			def = true
		}
	}
	return access, def
}

// Mounts

func (e *PrivilegedExecutor) bindMount(source, target string, readOnly bool) error {
	if err := e.layout.CheckPath("source", source); err != nil {
		return err
	}
	if err := e.layout.CheckPath("target", target); err != nil {
		return err
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("bind mount: %w", err)
	}

	mounted, err := e.mounter.IsMounted(target)
	if err != nil {
		return err
	}
	if mounted {
		return nil
	}

	if err := os.MkdirAll(target, 0750); err != nil {
		return fmt.Errorf("creating mount point %s: %w", target, err)
	}
	return e.mounter.BindMount(source, target, readOnly)
}

func (e *PrivilegedExecutor) unmount(target string) error {
	if err := e.layout.CheckPath("target", target); err != nil {
		return err
	}
	mounted, err := e.mounter.IsMounted(target)
	if err != nil {
		return err
	}
	if !mounted {
		return nil
	}
	if err := e.mounter.Unmount(target); err != nil {
		return err
	}
	// The mount point only goes away when empty.
	_ = os.Remove(target)
	return nil
}

// Snapshots

// createSnapshot writes the snapshot into a hidden sibling and renames it
// into place once complete, so dest only ever names a whole snapshot.
// Siblings left by an interrupted attempt are removed first.
func (e *PrivilegedExecutor) createSnapshot(ctx context.Context, project entity.Slug, name string) error {
	dir := e.layout.SnapshotDir(project)
	dest := e.layout.SnapshotPath(project, name)
	if err := e.discardPartials(ctx, dir, name); err != nil {
		return fmt.Errorf("snapshot %s of %s: %w", name, project, err)
	}
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	source := e.layout.ProjectDir(project)
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("snapshot %s of %s: %w", name, project, err)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating snapshot directory of %s: %w", project, err)
	}

	tmp := filepath.Join(dir, partialPrefix+name+"-"+uuid.NewString())
	if err := e.snapshots.Create(ctx, source, tmp); err != nil {
		if derr := e.discard(ctx, tmp); derr != nil {
			logger.WithField("path", tmp).WithField("error", derr).Warn("Partial snapshot left behind")
		}
		return fmt.Errorf("snapshot %s of %s: %w", name, project, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		if derr := e.discard(ctx, tmp); derr != nil {
			logger.WithField("path", tmp).WithField("error", derr).Warn("Partial snapshot left behind")
		}
		return fmt.Errorf("publishing snapshot %s of %s: %w", name, project, err)
	}
	logger.WithFields(map[string]interface{}{
		"project":  project.String(),
		"snapshot": name,
		"driver":   e.snapshots.Name(),
	}).Info("Snapshot created")
	return nil
}

// discardPartials removes the unfinished trees of snapshot name in dir.
func (e *PrivilegedExecutor) discardPartials(ctx context.Context, dir, name string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	prefix := partialPrefix + name + "-"
	for _, entry := range entries {
		rest, ok := strings.CutPrefix(entry.Name(), prefix)
		if !ok {
			continue
		}
		if _, err := uuid.Parse(rest); err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.discard(ctx, path); err != nil {
			return err
		}
		logger.WithField("path", path).Warn("Removed partial snapshot")
	}
	return nil
}

// discard removes an unfinished snapshot tree. A half-created subvolume
// goes through the driver; anything the driver refuses is removed as a
// plain tree.
func (e *PrivilegedExecutor) discard(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	derr := e.snapshots.Delete(ctx, path)
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("discarding %s: %w", path, errors.Join(derr, err))
	}
	return nil
}

func (e *PrivilegedExecutor) deleteSnapshot(ctx context.Context, project entity.Slug, name string) error {
	path := e.layout.SnapshotPath(project, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := e.snapshots.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete snapshot %s of %s: %w", name, project, err)
	}
	return nil
}

func (e *PrivilegedExecutor) restoreSnapshot(ctx context.Context, project entity.Slug, name string) error {
	path := e.layout.SnapshotPath(project, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("restore %s of %s: %w", name, project, ErrSnapshotNotFound)
	}
	if err := e.snapshots.Restore(ctx, path, e.layout.ProjectDir(project)); err != nil {
		return fmt.Errorf("restore %s of %s: %w", name, project, err)
	}
	return nil
}

func (e *PrivilegedExecutor) mountSnapshot(project entity.Slug, name string) error {
	path := e.layout.SnapshotPath(project, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("mount %s of %s: %w", name, project, ErrSnapshotNotFound)
	}

	prod := e.layout.ProdDir(project)
	if err := e.unmountProd(project); err != nil {
		return err
	}
	if err := os.MkdirAll(prod, 0755); err != nil {
		return fmt.Errorf("creating production directory of %s: %w", project, err)
	}
	return e.mounter.BindMount(path, prod, true)
}

func (e *PrivilegedExecutor) unmountProd(project entity.Slug) error {
	prod := e.layout.ProdDir(project)
	mounted, err := e.mounter.IsMounted(prod)
	if err != nil {
		return err
	}
	if !mounted {
		return nil
	}
	return e.mounter.Unmount(prod)
}

// DetectDistribution detects the Linux distribution from an os-release
// file.
func DetectDistribution(osRelease string) Distribution {
	content, err := os.ReadFile(osRelease)
	if err != nil {
		return DistroUnknown
	}

	var id, idLike string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.ToLower(strings.Trim(value, `"'`))
		switch key {
		case "ID":
			id = value
		case "ID_LIKE":
			idLike = value
		}
	}

	for _, candidate := range append([]string{id}, strings.Fields(idLike)...) {
		switch candidate {
		case "alpine":
			return DistroAlpine
		case "ubuntu":
			return DistroUbuntu
		case "debian":
			return DistroDebian
		case "rhel", "centos", "rocky", "almalinux":
			return DistroRHEL
		case "fedora":
			return DistroFedora
		case "arch":
			return DistroArch
		}
	}
	return DistroUnknown
}
