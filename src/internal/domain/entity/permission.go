package entity

import "fmt"

// Permission is the access level a principal holds on a project.
// Levels are totally ordered: Read < Write < Owner.
type Permission uint8

// Permission levels. The zero value grants nothing.
const (
	PermissionNone Permission = iota
	PermissionRead
	PermissionWrite
	PermissionOwner
)

var permissionNames = map[Permission]string{
	PermissionNone:  "none",
	PermissionRead:  "read",
	PermissionWrite: "write",
	PermissionOwner: "owner",
}

// String returns the lowercase level name.
func (p Permission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("permission(%d)", uint8(p))
}

// Valid reports whether p is one of Read, Write or Owner.
func (p Permission) Valid() bool {
	return p >= PermissionRead && p <= PermissionOwner
}

// Satisfies reports whether a principal holding p may perform an action
// that requires the given level.
func (p Permission) Satisfies(required Permission) bool {
	return p.Valid() && required.Valid() && p >= required
}

// ParsePermission parses a level name.
func ParsePermission(value string) (Permission, error) {
	for p, name := range permissionNames {
		if p.Valid() && name == value {
			return p, nil
		}
	}
	return PermissionNone, &ValidationError{Field: "permission", Rule: "permission", Message: fmt.Sprintf("unknown permission %q", value)}
}

// MarshalText encodes the level name.
func (p Permission) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("cannot encode %s", p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a level name.
func (p *Permission) UnmarshalText(text []byte) error {
	parsed, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
