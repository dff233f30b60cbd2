package entity

// ActionKind names an action a control-server caller may request.
type ActionKind string

// Action kinds.
const (
	ActionListDir           ActionKind = "ls_dir"
	ActionViewFile          ActionKind = "view_file"
	ActionDownloadFile      ActionKind = "download_file"
	ActionCreateDir         ActionKind = "create_dir"
	ActionCreateFile        ActionKind = "create_file"
	ActionUpdateFile        ActionKind = "update_file"
	ActionRenameEntry       ActionKind = "rename_entry"
	ActionDeleteEntry       ActionKind = "delete_entry"
	ActionMoveEntry         ActionKind = "move_entry"
	ActionCopyEntry         ActionKind = "copy_entry"
	ActionGrantPermission   ActionKind = "grant_permission"
	ActionRevokePermission  ActionKind = "revoke_permission"
	ActionUpdatePermission  ActionKind = "update_permission"
	ActionListSnapshots     ActionKind = "list_snapshots"
	ActionCreateSnapshot    ActionKind = "create_snapshot"
	ActionDeleteSnapshot    ActionKind = "delete_snapshot"
	ActionRestoreSnapshot   ActionKind = "restore_snapshot"
	ActionMountSnapshotProd ActionKind = "mount_snapshot_prod"
	ActionUnmountProd       ActionKind = "unmount_prod"
	ActionGitPull           ActionKind = "git_pull"
	ActionHookGitPull       ActionKind = "hook_git_pull"
	ActionDeleteProject     ActionKind = "delete_project"
)

// AllActionKinds lists every action kind in declaration order.
var AllActionKinds = []ActionKind{
	ActionListDir, ActionViewFile, ActionDownloadFile,
	ActionCreateDir, ActionCreateFile, ActionUpdateFile,
	ActionRenameEntry, ActionDeleteEntry, ActionMoveEntry, ActionCopyEntry,
	ActionGrantPermission, ActionRevokePermission, ActionUpdatePermission,
	ActionListSnapshots, ActionCreateSnapshot, ActionDeleteSnapshot,
	ActionRestoreSnapshot, ActionMountSnapshotProd, ActionUnmountProd,
	ActionGitPull, ActionHookGitPull, ActionDeleteProject,
}

// Action is a request issued against a project. The set of
// implementations is closed: only types in this package satisfy it.
type Action interface {
	Kind() ActionKind
	Target() Slug
	isAction()
}

// ListDir lists a directory. An empty Path lists the project root.
type ListDir struct {
	Project Slug   `validate:"slug"`
	Path    string `validate:"omitempty,relpath"`
}

// ViewFile renders a file for viewing.
type ViewFile struct {
	Project Slug   `validate:"slug"`
	Path    string `validate:"required,relpath"`
}

// DownloadFile streams a file or archive to the caller.
type DownloadFile struct {
	Project Slug   `validate:"slug"`
	Path    string `validate:"required,relpath"`
}

// CreateDir creates a directory.
type CreateDir struct {
	Project Slug   `validate:"slug"`
	Path    string `validate:"required,relpath"`
}

// CreateFile creates a file, usually through a direct upload.
type CreateFile struct {
	Project Slug   `validate:"slug"`
	Path    string `validate:"required,relpath"`
}

// UpdateFile replaces the content of a file.
type UpdateFile struct {
	Project Slug   `validate:"slug"`
	Path    string `validate:"required,relpath"`
}

// RenameEntry renames a file or directory in place.
type RenameEntry struct {
	Project Slug   `validate:"slug"`
	Path    string `validate:"required,relpath"`
	NewName string `validate:"required,excludesall=/,ne=.,ne=.."`
}

// DeleteEntry removes a file or directory.
type DeleteEntry struct {
	Project Slug   `validate:"slug"`
	Path    string `validate:"required,relpath"`
}

// MoveEntry moves an entry to another directory of the same project.
type MoveEntry struct {
	Project     Slug   `validate:"slug"`
	Path        string `validate:"required,relpath"`
	Destination string `validate:"required,relpath"`
}

// CopyEntry copies an entry within the same project.
type CopyEntry struct {
	Project     Slug   `validate:"slug"`
	Path        string `validate:"required,relpath"`
	Destination string `validate:"required,relpath"`
}

// GrantPermission gives a user access to a project.
type GrantPermission struct {
	Project Slug       `validate:"slug"`
	User    Slug       `validate:"principal"`
	Level   Permission `validate:"permission"`
}

// RevokePermission removes a user's access to a project.
type RevokePermission struct {
	Project Slug `validate:"slug"`
	User    Slug `validate:"principal"`
}

// UpdatePermission changes the level of an existing grant.
type UpdatePermission struct {
	Project Slug       `validate:"slug"`
	User    Slug       `validate:"principal"`
	Level   Permission `validate:"permission"`
}

// ListSnapshots lists the snapshots of a project.
type ListSnapshots struct {
	Project Slug `validate:"slug"`
}

// CreateSnapshot takes a point-in-time copy of the project tree.
type CreateSnapshot struct {
	Project Slug   `validate:"slug"`
	Name    string `validate:"snapshot"`
}

// DeleteSnapshot removes a snapshot.
type DeleteSnapshot struct {
	Project Slug   `validate:"slug"`
	Name    string `validate:"snapshot"`
}

// RestoreSnapshot rolls the project tree back to a snapshot.
type RestoreSnapshot struct {
	Project Slug   `validate:"slug"`
	Name    string `validate:"snapshot"`
}

// MountSnapshotProd serves a snapshot, read-only, as the production tree.
type MountSnapshotProd struct {
	Project Slug   `validate:"slug"`
	Name    string `validate:"snapshot"`
}

// UnmountProd stops serving the production tree.
type UnmountProd struct {
	Project Slug `validate:"slug"`
}

// GitPull updates the project tree from its remote on behalf of a
// logged-in user.
type GitPull struct {
	Project Slug   `validate:"slug"`
	Branch  string `validate:"omitempty,gitref"`
}

// HookGitPull is GitPull triggered by a machine caller holding a bearer
// token, typically a forge webhook.
type HookGitPull struct {
	Project Slug   `validate:"slug"`
	Branch  string `validate:"omitempty,gitref"`
}

// DeleteProject removes a project, its snapshots and its production tree.
type DeleteProject struct {
	Project Slug `validate:"slug"`
}

func (ListDir) Kind() ActionKind           { return ActionListDir }
func (ViewFile) Kind() ActionKind          { return ActionViewFile }
func (DownloadFile) Kind() ActionKind      { return ActionDownloadFile }
func (CreateDir) Kind() ActionKind         { return ActionCreateDir }
func (CreateFile) Kind() ActionKind        { return ActionCreateFile }
func (UpdateFile) Kind() ActionKind        { return ActionUpdateFile }
func (RenameEntry) Kind() ActionKind       { return ActionRenameEntry }
func (DeleteEntry) Kind() ActionKind       { return ActionDeleteEntry }
func (MoveEntry) Kind() ActionKind         { return ActionMoveEntry }
func (CopyEntry) Kind() ActionKind         { return ActionCopyEntry }
func (GrantPermission) Kind() ActionKind   { return ActionGrantPermission }
func (RevokePermission) Kind() ActionKind  { return ActionRevokePermission }
func (UpdatePermission) Kind() ActionKind  { return ActionUpdatePermission }
func (ListSnapshots) Kind() ActionKind     { return ActionListSnapshots }
func (CreateSnapshot) Kind() ActionKind    { return ActionCreateSnapshot }
func (DeleteSnapshot) Kind() ActionKind    { return ActionDeleteSnapshot }
func (RestoreSnapshot) Kind() ActionKind   { return ActionRestoreSnapshot }
func (MountSnapshotProd) Kind() ActionKind { return ActionMountSnapshotProd }
func (UnmountProd) Kind() ActionKind       { return ActionUnmountProd }
func (GitPull) Kind() ActionKind           { return ActionGitPull }
func (HookGitPull) Kind() ActionKind       { return ActionHookGitPull }
func (DeleteProject) Kind() ActionKind     { return ActionDeleteProject }

func (a ListDir) Target() Slug           { return a.Project }
func (a ViewFile) Target() Slug          { return a.Project }
func (a DownloadFile) Target() Slug      { return a.Project }
func (a CreateDir) Target() Slug         { return a.Project }
func (a CreateFile) Target() Slug        { return a.Project }
func (a UpdateFile) Target() Slug        { return a.Project }
func (a RenameEntry) Target() Slug       { return a.Project }
func (a DeleteEntry) Target() Slug       { return a.Project }
func (a MoveEntry) Target() Slug         { return a.Project }
func (a CopyEntry) Target() Slug         { return a.Project }
func (a GrantPermission) Target() Slug   { return a.Project }
func (a RevokePermission) Target() Slug  { return a.Project }
func (a UpdatePermission) Target() Slug  { return a.Project }
func (a ListSnapshots) Target() Slug     { return a.Project }
func (a CreateSnapshot) Target() Slug    { return a.Project }
func (a DeleteSnapshot) Target() Slug    { return a.Project }
func (a RestoreSnapshot) Target() Slug   { return a.Project }
func (a MountSnapshotProd) Target() Slug { return a.Project }
func (a UnmountProd) Target() Slug       { return a.Project }
func (a GitPull) Target() Slug           { return a.Project }
func (a HookGitPull) Target() Slug       { return a.Project }
func (a DeleteProject) Target() Slug     { return a.Project }

func (ListDir) isAction()           {}
func (ViewFile) isAction()          {}
func (DownloadFile) isAction()      {}
func (CreateDir) isAction()         {}
func (CreateFile) isAction()        {}
func (UpdateFile) isAction()        {}
func (RenameEntry) isAction()       {}
func (DeleteEntry) isAction()       {}
func (MoveEntry) isAction()         {}
func (CopyEntry) isAction()         {}
func (GrantPermission) isAction()   {}
func (RevokePermission) isAction()  {}
func (UpdatePermission) isAction()  {}
func (ListSnapshots) isAction()     {}
func (CreateSnapshot) isAction()    {}
func (DeleteSnapshot) isAction()    {}
func (RestoreSnapshot) isAction()   {}
func (MountSnapshotProd) isAction() {}
func (UnmountProd) isAction()       {}
func (GitPull) isAction()           {}
func (HookGitPull) isAction()       {}
func (DeleteProject) isAction()     {}
