// Package hosting defines the actions understood by the hosting
// controller, which serves project trees and reloads or stops them on
// request.
package hosting

import (
	"fmt"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

// Kind names a hosting action on the wire.
type Kind string

// Hosting action kinds.
const (
	KindPing         Kind = "ping"
	KindReload       Kind = "reload_project"
	KindStopServing  Kind = "stop_serving_project"
	KindAuthenticate Kind = "authenticate"
)

// Action is a request to the hosting controller. The set of
// implementations is closed.
type Action interface {
	Kind() Kind
	isHostingAction()
}

// Ping is the liveness probe of the hosting protocol.
type Ping struct{}

// ReloadProject starts serving a project, or picks up changes when it is
// already served. Token is the caller's bearer credential; a controller
// configured with a secret refuses the request without one.
type ReloadProject struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
	Token   string      `cbor:"token,omitempty"`
}

// StopServingProject stops serving a project. Stopping a project that is
// not served succeeds.
type StopServingProject struct {
	Project entity.Slug `cbor:"project" validate:"slug"`
	Token   string      `cbor:"token,omitempty"`
}

// Authenticate checks a bearer token and answers with its subject.
type Authenticate struct {
	Token string `cbor:"token" validate:"required"`
}

func (Ping) Kind() Kind               { return KindPing }
func (ReloadProject) Kind() Kind      { return KindReload }
func (StopServingProject) Kind() Kind { return KindStopServing }
func (Authenticate) Kind() Kind       { return KindAuthenticate }

func (Ping) isHostingAction()               {}
func (ReloadProject) isHostingAction()      {}
func (StopServingProject) isHostingAction() {}
func (Authenticate) isHostingAction()       {}

// Decode decodes the body of a hosting action of the given kind.
func Decode(kind Kind, body []byte, unmarshal func([]byte, any) error) (Action, error) {
	var (
		a   Action
		err error
	)
	switch kind {
	case KindPing:
		return Ping{}, nil
	case KindReload:
		var v ReloadProject
		err = unmarshal(body, &v)
		a = v
	case KindStopServing:
		var v StopServingProject
		err = unmarshal(body, &v)
		a = v
	case KindAuthenticate:
		var v Authenticate
		err = unmarshal(body, &v)
		a = v
	default:
		return nil, fmt.Errorf("unknown hosting action %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", kind, err)
	}
	return a, nil
}

// Validate checks the payload of a.
func Validate(a Action) error {
	if a == nil {
		return &entity.ValidationError{Field: "action", Rule: "required", Message: "hosting action is nil"}
	}
	return entity.Validate(a)
}
