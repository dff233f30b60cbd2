// Package service implements the business logic of project-host: the
// authorization of control-side actions and the processing of privileged
// and hosting commands on the daemon side.
package service

import (
	"context"
	"fmt"

	"github.com/kodflow/project-host/src/internal/domain/entity"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/infrastructure/security"
)

// CapabilityConsumer redeems single-use capability tokens.
type CapabilityConsumer interface {
	Consume(token string, principal entity.Slug, kind entity.ActionKind, project entity.Slug) error
}

// Authorizer decides whether a caller may perform an action. The checks
// run in a fixed order: payload validation, bearer or CSRF, permission
// level, then capability token redemption. A token is only consumed once
// every other check has passed.
type Authorizer struct {
	bearer security.Authenticator
	tokens CapabilityConsumer
}

// NewAuthorizer creates an authorizer.
func NewAuthorizer(bearer security.Authenticator, tokens CapabilityConsumer) *Authorizer {
	return &Authorizer{bearer: bearer, tokens: tokens}
}

func deny(action entity.Action, reason string, err error) error {
	return &entity.AuthorizationError{Action: action.Kind(), Reason: reason, Err: err}
}

// Authorize returns nil when grant allows action. Malformed payloads yield
// *entity.ValidationError, every other refusal *entity.AuthorizationError.
func (a *Authorizer) Authorize(ctx context.Context, grant entity.Grant, action entity.Action) error {
	if action == nil {
		return &entity.ValidationError{Message: "nil action"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entity.Validate(action); err != nil {
		return err
	}

	facts, ok := entity.FactsFor(action.Kind())
	if !ok {
		return deny(action, "unknown action", nil)
	}

	if facts.Bearer {
		if a.bearer == nil || grant.BearerToken == "" {
			return deny(action, "bearer token required", nil)
		}
		subject, err := a.bearer.Authenticate(grant.BearerToken)
		if err != nil {
			return deny(action, "invalid bearer token", err)
		}
		// Machine tokens are issued per project.
		if subject != action.Target().String() {
			return deny(action, fmt.Sprintf("bearer token is scoped to %q", subject), nil)
		}
	} else {
		if grant.Principal.IsZero() {
			return deny(action, "no authenticated principal", nil)
		}
		if facts.CSRF && !grant.CSRFVerified {
			return deny(action, "CSRF token missing or invalid", nil)
		}
	}

	if !grant.Level.Satisfies(facts.Permission) {
		return deny(action, fmt.Sprintf("requires %s permission, caller holds %s", facts.Permission, grant.Level), nil)
	}

	if facts.Token {
		if a.tokens == nil || grant.CapabilityToken == "" {
			return deny(action, "capability token required", nil)
		}
		if err := a.tokens.Consume(grant.CapabilityToken, grant.Principal, action.Kind(), action.Target()); err != nil {
			return deny(action, err.Error(), err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"action":  string(action.Kind()),
		"project": action.Target().String(),
	}).Debug("Action authorized")
	return nil
}
