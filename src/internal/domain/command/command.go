// Package command defines the privileged commands executed by the helper
// daemon. Each command is a concrete, self-contained mutation of the host:
// it names every path and principal it touches and is safe to re-issue.
package command

import (
	"fmt"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

// Kind names a privileged command on the wire.
type Kind string

// Command kinds.
const (
	KindPing            Kind = "ping"
	KindCreateUser      Kind = "create_user"
	KindDeleteUser      Kind = "delete_user"
	KindCreateProject   Kind = "create_project"
	KindDeleteProject   Kind = "delete_project"
	KindSetACL          Kind = "set_acl"
	KindRemoveACL       Kind = "remove_acl"
	KindBindMount       Kind = "bind_mount"
	KindUnmount         Kind = "unmount"
	KindCreateSnapshot  Kind = "create_snapshot"
	KindDeleteSnapshot  Kind = "delete_snapshot"
	KindRestoreSnapshot Kind = "restore_snapshot"
	KindMountSnapshot   Kind = "mount_snapshot"
	KindUnmountProd     Kind = "unmount_prod"
)

// AllKinds lists every command kind.
var AllKinds = []Kind{
	KindPing,
	KindCreateUser, KindDeleteUser,
	KindCreateProject, KindDeleteProject,
	KindSetACL, KindRemoveACL,
	KindBindMount, KindUnmount,
	KindCreateSnapshot, KindDeleteSnapshot, KindRestoreSnapshot,
	KindMountSnapshot, KindUnmountProd,
}

// Command is a privileged mutation. The set of implementations is closed.
type Command interface {
	Kind() Kind
	isCommand()
}

// Ping is the liveness probe of the helper protocol.
type Ping struct{}

// CreateUser creates the system principal of a user along with its home
// and projects directories.
type CreateUser struct {
	User entity.Slug `cbor:"user" validate:"principal"`
}

// DeleteUser removes a user's system principal and home directory.
type DeleteUser struct {
	User entity.Slug `cbor:"user" validate:"principal"`
}

// CreateProject creates a project tree owned by the service principal.
type CreateProject struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
}

// DeleteProject removes a project tree, its snapshots and its production
// mount.
type DeleteProject struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
}

// SetACL grants User access to Path, as both a regular and a default ACL
// entry so that new children inherit it.
type SetACL struct {
	Path     string      `cbor:"path" validate:"abspath"`
	User     entity.Slug `cbor:"user" validate:"principal"`
	ReadOnly bool        `cbor:"read_only"`
}

// RemoveACL drops User's regular and default entries on Path. Removing an
// absent entry succeeds.
type RemoveACL struct {
	Path string      `cbor:"path" validate:"abspath"`
	User entity.Slug `cbor:"user" validate:"principal"`
}

// BindMount mounts Source onto Target.
type BindMount struct {
	Source   string `cbor:"source" validate:"abspath"`
	Target   string `cbor:"target" validate:"abspath"`
	ReadOnly bool   `cbor:"read_only"`
}

// Unmount detaches whatever is mounted on Target.
type Unmount struct {
	Target string `cbor:"target" validate:"abspath"`
}

// CreateSnapshot takes a point-in-time copy of a project tree.
type CreateSnapshot struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
	Name    string      `cbor:"name" validate:"snapshot"`
}

// DeleteSnapshot removes a snapshot.
type DeleteSnapshot struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
	Name    string      `cbor:"name" validate:"snapshot"`
}

// RestoreSnapshot rolls a project tree back to a snapshot.
type RestoreSnapshot struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
	Name    string      `cbor:"name" validate:"snapshot"`
}

// MountSnapshot mounts a snapshot read-only on the production path of its
// project, replacing whatever was served there.
type MountSnapshot struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
	Name    string      `cbor:"name" validate:"snapshot"`
}

// UnmountProd unmounts the production path of a project.
type UnmountProd struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
}

func (Ping) Kind() Kind            { return KindPing }
func (CreateUser) Kind() Kind      { return KindCreateUser }
func (DeleteUser) Kind() Kind      { return KindDeleteUser }
func (CreateProject) Kind() Kind   { return KindCreateProject }
func (DeleteProject) Kind() Kind   { return KindDeleteProject }
func (SetACL) Kind() Kind          { return KindSetACL }
func (RemoveACL) Kind() Kind       { return KindRemoveACL }
func (BindMount) Kind() Kind       { return KindBindMount }
func (Unmount) Kind() Kind         { return KindUnmount }
func (CreateSnapshot) Kind() Kind  { return KindCreateSnapshot }
func (DeleteSnapshot) Kind() Kind  { return KindDeleteSnapshot }
func (RestoreSnapshot) Kind() Kind { return KindRestoreSnapshot }
func (MountSnapshot) Kind() Kind   { return KindMountSnapshot }
func (UnmountProd) Kind() Kind     { return KindUnmountProd }

func (Ping) isCommand()            {}
func (CreateUser) isCommand()      {}
func (DeleteUser) isCommand()      {}
func (CreateProject) isCommand()   {}
func (DeleteProject) isCommand()   {}
func (SetACL) isCommand()          {}
func (RemoveACL) isCommand()       {}
func (BindMount) isCommand()       {}
func (Unmount) isCommand()         {}
func (CreateSnapshot) isCommand()  {}
func (DeleteSnapshot) isCommand()  {}
func (RestoreSnapshot) isCommand() {}
func (MountSnapshot) isCommand()   {}
func (UnmountProd) isCommand()     {}

// Unmarshaler decodes an encoded payload into v.
type Unmarshaler func(data []byte, v any) error

// Decode decodes the body of a command of the given kind.
func Decode(kind Kind, body []byte, unmarshal Unmarshaler) (Command, error) {
	switch kind {
	case KindPing:
		return decodeAs[Ping](body, unmarshal)
	case KindCreateUser:
		return decodeAs[CreateUser](body, unmarshal)
	case KindDeleteUser:
		return decodeAs[DeleteUser](body, unmarshal)
	case KindCreateProject:
		return decodeAs[CreateProject](body, unmarshal)
	case KindDeleteProject:
		return decodeAs[DeleteProject](body, unmarshal)
	case KindSetACL:
		return decodeAs[SetACL](body, unmarshal)
	case KindRemoveACL:
		return decodeAs[RemoveACL](body, unmarshal)
	case KindBindMount:
		return decodeAs[BindMount](body, unmarshal)
	case KindUnmount:
		return decodeAs[Unmount](body, unmarshal)
	case KindCreateSnapshot:
		return decodeAs[CreateSnapshot](body, unmarshal)
	case KindDeleteSnapshot:
		return decodeAs[DeleteSnapshot](body, unmarshal)
	case KindRestoreSnapshot:
		return decodeAs[RestoreSnapshot](body, unmarshal)
	case KindMountSnapshot:
		return decodeAs[MountSnapshot](body, unmarshal)
	case KindUnmountProd:
		return decodeAs[UnmountProd](body, unmarshal)
	}
	return nil, fmt.Errorf("unknown command kind %q", kind)
}

func decodeAs[T Command](body []byte, unmarshal Unmarshaler) (Command, error) {
	var c T
	if len(body) > 0 {
		if err := unmarshal(body, &c); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", c.Kind(), err)
		}
	}
	return c, nil
}

// Validate checks the payload of c.
func Validate(c Command) error {
	if c == nil {
		return &entity.ValidationError{Field: "command", Rule: "required", Message: "command is nil"}
	}
	return entity.Validate(c)
}
