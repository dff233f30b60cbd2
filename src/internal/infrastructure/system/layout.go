package system

import (
	"fmt"
	"path/filepath"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

// Layout names the directory roots the helper manages. Every path a
// command touches must lie strictly below one of them.
type Layout struct {
	ProjectsRoot  string
	SnapshotsRoot string
	HomeRoot      string
	ProdRoot      string
}

// ProjectDir is the working tree of a project.
func (l Layout) ProjectDir(project entity.Slug) string {
	return filepath.Join(l.ProjectsRoot, project.FSName())
}

// SnapshotDir holds every snapshot of a project.
func (l Layout) SnapshotDir(project entity.Slug) string {
	return filepath.Join(l.SnapshotsRoot, project.FSName())
}

// SnapshotPath is one named snapshot of a project.
func (l Layout) SnapshotPath(project entity.Slug, name string) string {
	return filepath.Join(l.SnapshotDir(project), name)
}

// ProdDir is where the production snapshot of a project is mounted.
func (l Layout) ProdDir(project entity.Slug) string {
	return filepath.Join(l.ProdRoot, project.FSName())
}

// HomeDir is the home directory of a user principal.
func (l Layout) HomeDir(user entity.Slug) string {
	return filepath.Join(l.HomeRoot, user.FSName())
}

// UserProjectsDir holds the bind-mounted views of the projects a user can
// access.
func (l Layout) UserProjectsDir(user entity.Slug) string {
	return filepath.Join(l.HomeDir(user), "projects")
}

// UserProjectView is the mount point of a project inside a user's home.
func (l Layout) UserProjectView(user, project entity.Slug) string {
	return filepath.Join(l.UserProjectsDir(user), project.FSName())
}

func (l Layout) roots() []string {
	return []string{l.ProjectsRoot, l.SnapshotsRoot, l.HomeRoot, l.ProdRoot}
}

// Contains reports whether path lies strictly below one of the roots.
// Symlinks in existing prefixes are resolved before comparing.
func (l Layout) Contains(path string) bool {
	if !filepath.IsAbs(path) || filepath.Clean(path) != path {
		return false
	}
	resolved := resolveExisting(path)
	for _, root := range l.roots() {
		if root == "" {
			continue
		}
		r := resolveExisting(filepath.Clean(root))
		if resolved != r && within(r, resolved) {
			return true
		}
	}
	return false
}

// CheckPath returns a *entity.ValidationError when path is outside the
// layout.
func (l Layout) CheckPath(field, path string) error {
	if l.Contains(path) {
		return nil
	}
	return &entity.ValidationError{
		Field:   field,
		Rule:    "layout",
		Message: fmt.Sprintf("%s %q is outside the managed directories", field, path),
	}
}

// resolveExisting resolves symlinks in the longest existing prefix of
// path and appends the remainder unchanged.
func resolveExisting(path string) string {
	rest := ""
	for p := path; ; p = filepath.Dir(p) {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(resolved, rest)
		}
		if p == filepath.Dir(p) {
			return path
		}
		rest = filepath.Join(filepath.Base(p), rest)
	}
}
