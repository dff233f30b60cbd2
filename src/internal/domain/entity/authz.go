package entity

// AuthorizationFacts describes what a caller must present to perform an
// action.
type AuthorizationFacts struct {
	// Permission is the minimum level the caller must hold on the target
	// project.
	Permission Permission
	// CSRF is set for state-changing actions submitted from a browser
	// session.
	CSRF bool
	// Token is set for actions that also need a short-lived single-use
	// capability token (direct upload and download flows).
	Token bool
	// Bearer is set for machine-to-machine actions authenticated by a
	// bearer token instead of a session.
	Bearer bool
}

// authorizationTable is the single source of truth for access control.
// Every ActionKind has exactly one row.
var authorizationTable = map[ActionKind]AuthorizationFacts{
	ActionListDir:      {Permission: PermissionRead},
	ActionViewFile:     {Permission: PermissionRead, Token: true},
	ActionDownloadFile: {Permission: PermissionRead},

	ActionCreateDir:   {Permission: PermissionWrite, CSRF: true, Token: true},
	ActionCreateFile:  {Permission: PermissionWrite, CSRF: true, Token: true},
	ActionUpdateFile:  {Permission: PermissionWrite, CSRF: true, Token: true},
	ActionRenameEntry: {Permission: PermissionWrite, CSRF: true},
	ActionDeleteEntry: {Permission: PermissionWrite, CSRF: true},
	ActionMoveEntry:   {Permission: PermissionWrite, CSRF: true},
	ActionCopyEntry:   {Permission: PermissionWrite, CSRF: true},

	ActionGrantPermission:  {Permission: PermissionOwner, CSRF: true},
	ActionRevokePermission: {Permission: PermissionOwner, CSRF: true},
	ActionUpdatePermission: {Permission: PermissionOwner, CSRF: true},

	ActionListSnapshots:     {Permission: PermissionRead},
	ActionCreateSnapshot:    {Permission: PermissionWrite, CSRF: true},
	ActionDeleteSnapshot:    {Permission: PermissionWrite, CSRF: true},
	ActionRestoreSnapshot:   {Permission: PermissionWrite, CSRF: true},
	ActionMountSnapshotProd: {Permission: PermissionOwner, CSRF: true},
	ActionUnmountProd:       {Permission: PermissionOwner, CSRF: true},

	ActionGitPull:       {Permission: PermissionWrite, CSRF: true},
	ActionHookGitPull:   {Permission: PermissionWrite, Bearer: true},
	ActionDeleteProject: {Permission: PermissionOwner, CSRF: true},
}

// FactsFor returns the authorization row of an action kind. The second
// result is false for unknown kinds.
func FactsFor(kind ActionKind) (AuthorizationFacts, bool) {
	facts, ok := authorizationTable[kind]
	return facts, ok
}

// RequiredPermission returns the minimum level needed to perform a.
func RequiredPermission(a Action) Permission {
	return authorizationTable[a.Kind()].Permission
}

// RequiresCSRF reports whether a must carry a session-bound CSRF token.
func RequiresCSRF(a Action) bool {
	return authorizationTable[a.Kind()].CSRF
}

// RequiresToken reports whether a must carry a single-use capability
// token.
func RequiresToken(a Action) bool {
	return authorizationTable[a.Kind()].Token
}

// RequiresBearerToken reports whether a is a machine call authenticated
// by a bearer token.
func RequiresBearerToken(a Action) bool {
	return authorizationTable[a.Kind()].Bearer
}
