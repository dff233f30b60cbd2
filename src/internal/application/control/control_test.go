package control

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/domain/service"
	"github.com/kodflow/project-host/src/internal/infrastructure/security"
	"github.com/kodflow/project-host/src/internal/infrastructure/system"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	alice = entity.Slug{ID: 7, Name: "alice"}
	bob   = entity.Slug{ID: 8, Name: "bob"}
	shop  = entity.Slug{ID: 12, Name: "shop"}

	layout = system.Layout{
		ProjectsRoot:  "/srv/projects",
		SnapshotsRoot: "/srv/snapshots",
		HomeRoot:      "/home",
		ProdRoot:      "/srv/prod",
	}
)

// recorder collects the calls made to the fake collaborators in order.
type recorder struct {
	mu         sync.Mutex
	calls      []string
	fail       map[string]error
	credential string
}

func (r *recorder) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	name := call
	if i := strings.IndexByte(call, ' '); i > 0 {
		name = call[:i]
	}
	return r.fail[name]
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeHelper struct{ *recorder }

func (h fakeHelper) SetACL(_ context.Context, path string, user entity.Slug, ro bool) error {
	return h.record(fmt.Sprintf("helper.SetACL %s %s ro=%v", path, user, ro))
}
func (h fakeHelper) RemoveACL(_ context.Context, path string, user entity.Slug) error {
	return h.record(fmt.Sprintf("helper.RemoveACL %s %s", path, user))
}
func (h fakeHelper) BindMount(_ context.Context, src, dst string, ro bool) error {
	return h.record(fmt.Sprintf("helper.BindMount %s %s ro=%v", src, dst, ro))
}
func (h fakeHelper) Unmount(_ context.Context, target string) error {
	return h.record("helper.Unmount " + target)
}
func (h fakeHelper) CreateSnapshot(_ context.Context, p entity.Slug, name string) error {
	return h.record(fmt.Sprintf("helper.CreateSnapshot %s %s", p, name))
}
func (h fakeHelper) DeleteSnapshot(_ context.Context, p entity.Slug, name string) error {
	return h.record(fmt.Sprintf("helper.DeleteSnapshot %s %s", p, name))
}
func (h fakeHelper) RestoreSnapshot(_ context.Context, p entity.Slug, name string) error {
	return h.record(fmt.Sprintf("helper.RestoreSnapshot %s %s", p, name))
}
func (h fakeHelper) MountSnapshot(_ context.Context, p entity.Slug, name string) error {
	return h.record(fmt.Sprintf("helper.MountSnapshot %s %s", p, name))
}
func (h fakeHelper) UnmountProd(_ context.Context, p entity.Slug) error {
	return h.record("helper.UnmountProd " + p.String())
}
func (h fakeHelper) DeleteProject(_ context.Context, p entity.Slug) error {
	return h.record("helper.DeleteProject " + p.String())
}
func (h fakeHelper) Ping(context.Context) error { return h.record("helper.Ping") }

type fakeHosting struct {
	*recorder
	auth security.Authenticator
}

func (h fakeHosting) Reload(_ context.Context, p entity.Slug) error {
	return h.record("hosting.Reload " + p.String())
}
func (h fakeHosting) StopServing(_ context.Context, p entity.Slug) error {
	return h.record("hosting.StopServing " + p.String())
}
func (h fakeHosting) Authenticate(_ context.Context, token string) (string, error) {
	if err := h.record("hosting.Authenticate"); err != nil {
		return "", err
	}
	return h.auth.Authenticate(token)
}
func (h fakeHosting) Ping(context.Context) error { return h.record("hosting.Ping") }
func (h fakeHosting) SetCredential(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.credential = token
}
func (h fakeHosting) Credential() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.credential
}

type fakeFiles struct{ *recorder }

func (f fakeFiles) Handle(_ context.Context, principal entity.Slug, action entity.Action) (any, error) {
	if err := f.record(fmt.Sprintf("files.%s %s", action.Kind(), principal)); err != nil {
		return nil, err
	}
	return []string{"index.html"}, nil
}

type fixture struct {
	rec        *recorder
	dispatcher *Dispatcher
	bearer     *security.BearerAuthenticator
	tokens     *security.CapabilityIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testclock.NewClock(epoch)
	bearer, err := security.NewBearerAuthenticator(testSecret, time.Hour, clk)
	if err != nil {
		t.Fatalf("NewBearerAuthenticator() error = %v", err)
	}
	tokens, err := security.NewCapabilityIssuer(testSecret, time.Minute, clk)
	if err != nil {
		t.Fatalf("NewCapabilityIssuer() error = %v", err)
	}
	rec := &recorder{fail: map[string]error{}}
	d := NewDispatcher(service.NewAuthorizer(bearer, tokens), fakeHelper{rec}, fakeHosting{rec, bearer}, fakeFiles{rec}, layout)
	return &fixture{rec: rec, dispatcher: d, bearer: bearer, tokens: tokens}
}

func owner(level entity.Permission) entity.Grant {
	return entity.Grant{Principal: alice, Level: level, CSRFVerified: true}
}

func TestDispatcher_Routes(t *testing.T) {
	bobView := "/home/bob8/projects/shop12"

	tests := []struct {
		name   string
		action entity.Action
		want   []string
	}{
		{
			name:   "grant read",
			action: entity.GrantPermission{Project: shop, User: bob, Level: entity.PermissionRead},
			want: []string{
				"helper.SetACL /srv/projects/shop12 bob-8 ro=true",
				"helper.BindMount /srv/projects/shop12 " + bobView + " ro=true",
			},
		},
		{
			name:   "update to write",
			action: entity.UpdatePermission{Project: shop, User: bob, Level: entity.PermissionWrite},
			want: []string{
				"helper.Unmount " + bobView,
				"helper.SetACL /srv/projects/shop12 bob-8 ro=false",
				"helper.BindMount /srv/projects/shop12 " + bobView + " ro=false",
			},
		},
		{
			name:   "revoke",
			action: entity.RevokePermission{Project: shop, User: bob},
			want: []string{
				"helper.Unmount " + bobView,
				"helper.RemoveACL /srv/projects/shop12 bob-8",
			},
		},
		{
			name:   "create snapshot",
			action: entity.CreateSnapshot{Project: shop, Name: "v1"},
			want:   []string{"helper.CreateSnapshot shop-12 v1"},
		},
		{
			name:   "delete snapshot",
			action: entity.DeleteSnapshot{Project: shop, Name: "v1"},
			want:   []string{"helper.DeleteSnapshot shop-12 v1"},
		},
		{
			name:   "restore snapshot reloads",
			action: entity.RestoreSnapshot{Project: shop, Name: "v1"},
			want:   []string{"helper.RestoreSnapshot shop-12 v1", "hosting.Reload shop-12"},
		},
		{
			name:   "mount prod reloads",
			action: entity.MountSnapshotProd{Project: shop, Name: "v1"},
			want:   []string{"helper.MountSnapshot shop-12 v1", "hosting.Reload shop-12"},
		},
		{
			name:   "unmount prod stops serving first",
			action: entity.UnmountProd{Project: shop},
			want:   []string{"hosting.StopServing shop-12", "helper.UnmountProd shop-12"},
		},
		{
			name:   "delete project",
			action: entity.DeleteProject{Project: shop},
			want:   []string{"hosting.StopServing shop-12", "helper.DeleteProject shop-12"},
		},
		{
			name:   "git pull reloads",
			action: entity.GitPull{Project: shop, Branch: "main"},
			want:   []string{"files.git_pull alice-7", "hosting.Reload shop-12"},
		},
		{
			name:   "rename goes to files",
			action: entity.RenameEntry{Project: shop, Path: "a.txt", NewName: "b.txt"},
			want:   []string{"files.rename_entry alice-7"},
		},
		{
			name:   "list snapshots goes to files",
			action: entity.ListSnapshots{Project: shop},
			want:   []string{"files.list_snapshots alice-7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.dispatcher.Dispatch(context.Background(), owner(entity.PermissionOwner), tt.action)
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if res.Kind != tt.action.Kind() {
				t.Errorf("Result.Kind = %s, want %s", res.Kind, tt.action.Kind())
			}
			if got := f.rec.Calls(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %q\nwant    %q", got, tt.want)
			}
		})
	}
}

func TestDispatcher_RefusedActionsReachNobody(t *testing.T) {
	tests := []struct {
		name   string
		grant  entity.Grant
		action entity.Action
	}{
		{"read cannot snapshot", owner(entity.PermissionRead), entity.CreateSnapshot{Project: shop, Name: "v1"}},
		{"write cannot delete project", owner(entity.PermissionWrite), entity.DeleteProject{Project: shop}},
		{"missing csrf", entity.Grant{Principal: alice, Level: entity.PermissionOwner}, entity.UnmountProd{Project: shop}},
		{"hook without bearer", entity.Grant{Level: entity.PermissionWrite}, entity.HookGitPull{Project: shop}},
		{"bad snapshot name", owner(entity.PermissionOwner), entity.CreateSnapshot{Project: shop, Name: "../x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.dispatcher.Dispatch(context.Background(), tt.grant, tt.action)
			var authErr *entity.AuthorizationError
			var valErr *entity.ValidationError
			if !errors.As(err, &authErr) && !errors.As(err, &valErr) {
				t.Fatalf("Dispatch() error = %v, want authorization or validation error", err)
			}
			if calls := f.rec.Calls(); len(calls) != 0 {
				t.Errorf("refused action reached collaborators: %q", calls)
			}
		})
	}
}

func TestDispatcher_HookGitPull(t *testing.T) {
	f := newFixture(t)
	token, err := f.bearer.Issue(shop.String())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	grant := entity.Grant{Level: entity.PermissionWrite, BearerToken: token}
	if _, err := f.dispatcher.Dispatch(context.Background(), grant, entity.HookGitPull{Project: shop}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	// Machine callers have no principal.
	want := []string{"files.hook_git_pull -0", "hosting.Reload shop-12"}
	if got := f.rec.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestDispatcher_CapabilityTokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	action := entity.CreateFile{Project: shop, Path: "upload.bin"}
	token, err := f.tokens.Issue(alice, action.Kind(), shop)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	grant := owner(entity.PermissionWrite)
	grant.CapabilityToken = token
	if _, err := f.dispatcher.Dispatch(context.Background(), grant, action); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}
	_, err = f.dispatcher.Dispatch(context.Background(), grant, action)
	if !errors.Is(err, security.ErrTokenReused) {
		t.Errorf("second Dispatch() error = %v, want ErrTokenReused", err)
	}
	if got := len(f.rec.Calls()); got != 1 {
		t.Errorf("files called %d times, want 1", got)
	}
}

func TestDispatcher_Failures(t *testing.T) {
	t.Run("helper error stops the chain", func(t *testing.T) {
		f := newFixture(t)
		f.rec.fail["helper.RestoreSnapshot"] = &entity.CommandError{Kind: "restore_snapshot", Message: "snapshot v1 not found"}

		_, err := f.dispatcher.Dispatch(context.Background(), owner(entity.PermissionOwner), entity.RestoreSnapshot{Project: shop, Name: "v1"})
		var cmdErr *entity.CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("Dispatch() error = %v, want CommandError", err)
		}
		if calls := f.rec.Calls(); len(calls) != 1 {
			t.Errorf("calls = %q, reload must not run after a failed restore", calls)
		}
	})

	t.Run("hosting stop failure keeps the project", func(t *testing.T) {
		f := newFixture(t)
		f.rec.fail["hosting.StopServing"] = errors.New("connection refused")

		if _, err := f.dispatcher.Dispatch(context.Background(), owner(entity.PermissionOwner), entity.DeleteProject{Project: shop}); err == nil {
			t.Fatal("Dispatch() should fail")
		}
		if calls := f.rec.Calls(); len(calls) != 1 {
			t.Errorf("calls = %q, helper must not delete a served project", calls)
		}
	})

	t.Run("no file handler", func(t *testing.T) {
		f := newFixture(t)
		f.dispatcher.files = nil
		_, err := f.dispatcher.Dispatch(context.Background(), owner(entity.PermissionRead), entity.ListDir{Project: shop})
		if !errors.Is(err, ErrNoFileHandler) {
			t.Errorf("Dispatch() error = %v, want ErrNoFileHandler", err)
		}
	})
}
