package entity

import "testing"

var (
	project = Slug{ID: 1, Name: "site"}
	alice   = Slug{ID: 7, Name: "alice"}
)

// sampleActions holds one value of every action variant.
func sampleActions() []Action {
	return []Action{
		ListDir{Project: project},
		ViewFile{Project: project, Path: "index.html"},
		DownloadFile{Project: project, Path: "index.html"},
		CreateDir{Project: project, Path: "assets"},
		CreateFile{Project: project, Path: "assets/app.js"},
		UpdateFile{Project: project, Path: "assets/app.js"},
		RenameEntry{Project: project, Path: "assets/app.js", NewName: "main.js"},
		DeleteEntry{Project: project, Path: "assets"},
		MoveEntry{Project: project, Path: "a.txt", Destination: "docs"},
		CopyEntry{Project: project, Path: "a.txt", Destination: "docs/b.txt"},
		GrantPermission{Project: project, User: alice, Level: PermissionRead},
		RevokePermission{Project: project, User: alice},
		UpdatePermission{Project: project, User: alice, Level: PermissionWrite},
		ListSnapshots{Project: project},
		CreateSnapshot{Project: project, Name: "before-release"},
		DeleteSnapshot{Project: project, Name: "before-release"},
		RestoreSnapshot{Project: project, Name: "before-release"},
		MountSnapshotProd{Project: project, Name: "before-release"},
		UnmountProd{Project: project},
		GitPull{Project: project, Branch: "main"},
		HookGitPull{Project: project},
		DeleteProject{Project: project},
	}
}

func TestAuthorizationTable_Complete(t *testing.T) {
	if len(authorizationTable) != len(AllActionKinds) {
		t.Errorf("table has %d rows, want %d", len(authorizationTable), len(AllActionKinds))
	}

	seen := make(map[ActionKind]bool)
	for _, a := range sampleActions() {
		seen[a.Kind()] = true
	}

	for _, kind := range AllActionKinds {
		facts, ok := FactsFor(kind)
		if !ok {
			t.Errorf("no authorization row for %s", kind)
			continue
		}
		if !facts.Permission.Valid() {
			t.Errorf("%s requires invalid permission %s", kind, facts.Permission)
		}
		if !seen[kind] {
			t.Errorf("no sample action for %s", kind)
		}
		if facts.CSRF && facts.Bearer {
			t.Errorf("%s requires both CSRF and bearer", kind)
		}
	}
}

func TestRequiredPermission(t *testing.T) {
	want := map[ActionKind]Permission{
		ActionListDir:           PermissionRead,
		ActionViewFile:          PermissionRead,
		ActionDownloadFile:      PermissionRead,
		ActionListSnapshots:     PermissionRead,
		ActionCreateDir:         PermissionWrite,
		ActionCreateFile:        PermissionWrite,
		ActionUpdateFile:        PermissionWrite,
		ActionRenameEntry:       PermissionWrite,
		ActionDeleteEntry:       PermissionWrite,
		ActionMoveEntry:         PermissionWrite,
		ActionCopyEntry:         PermissionWrite,
		ActionCreateSnapshot:    PermissionWrite,
		ActionDeleteSnapshot:    PermissionWrite,
		ActionRestoreSnapshot:   PermissionWrite,
		ActionGitPull:           PermissionWrite,
		ActionHookGitPull:       PermissionWrite,
		ActionGrantPermission:   PermissionOwner,
		ActionRevokePermission:  PermissionOwner,
		ActionUpdatePermission:  PermissionOwner,
		ActionMountSnapshotProd: PermissionOwner,
		ActionUnmountProd:       PermissionOwner,
		ActionDeleteProject:     PermissionOwner,
	}

	for _, a := range sampleActions() {
		if got := RequiredPermission(a); got != want[a.Kind()] {
			t.Errorf("RequiredPermission(%s) = %s, want %s", a.Kind(), got, want[a.Kind()])
		}
	}
}

func TestRequiresCSRF(t *testing.T) {
	reads := map[ActionKind]bool{
		ActionListDir:       true,
		ActionViewFile:      true,
		ActionDownloadFile:  true,
		ActionListSnapshots: true,
		ActionHookGitPull:   true, // bearer authenticated
	}

	for _, a := range sampleActions() {
		want := !reads[a.Kind()]
		if got := RequiresCSRF(a); got != want {
			t.Errorf("RequiresCSRF(%s) = %v, want %v", a.Kind(), got, want)
		}
	}
}

func TestRequiresToken(t *testing.T) {
	tokenActions := map[ActionKind]bool{
		ActionCreateDir:  true,
		ActionCreateFile: true,
		ActionViewFile:   true,
		ActionUpdateFile: true,
	}

	for _, a := range sampleActions() {
		if got := RequiresToken(a); got != tokenActions[a.Kind()] {
			t.Errorf("RequiresToken(%s) = %v, want %v", a.Kind(), got, tokenActions[a.Kind()])
		}
	}
}

func TestRequiresBearerToken(t *testing.T) {
	for _, a := range sampleActions() {
		want := a.Kind() == ActionHookGitPull
		if got := RequiresBearerToken(a); got != want {
			t.Errorf("RequiresBearerToken(%s) = %v, want %v", a.Kind(), got, want)
		}
	}
}
