package entity

import "fmt"

// ValidationError reports a malformed action or command payload. It is
// raised before anything is sent over the wire.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: field %q breaks rule %q", e.Field, e.Rule)
}

// AuthorizationError reports a failed permission, CSRF, bearer or
// capability token check. Actions that fail authorization never reach
// the privileged side.
type AuthorizationError struct {
	Action ActionKind
	Reason string
	// Err is the underlying token failure, if any.
	Err error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("action %s not authorized: %s", e.Action, e.Reason)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// CommandError carries the message of an Error reply returned by the
// helper or the hosting controller. The connection that produced it is
// still usable.
type CommandError struct {
	Kind    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Kind, e.Message)
}
