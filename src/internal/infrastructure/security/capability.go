package security

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

// Capability token errors.
var (
	ErrTokenInvalid = errors.New("capability token is invalid")
	ErrTokenExpired = errors.New("capability token has expired")
	ErrTokenReused  = errors.New("capability token was already used")
	ErrTokenScope   = errors.New("capability token does not cover this action")
)

// DefaultCapabilityTTL is the lifetime of a capability token when none is
// configured.
const DefaultCapabilityTTL = 5 * time.Minute

// CapabilityClaims scope a token to one action on one project for one
// principal.
type CapabilityClaims struct {
	Action  entity.ActionKind `json:"act"`
	Project string            `json:"prj"`
	jwt.RegisteredClaims
}

// CapabilityIssuer issues short-lived single-use tokens and remembers the
// ones already consumed until they expire.
type CapabilityIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	parser *jwt.Parser

	mu       sync.Mutex
	consumed map[string]time.Time
}

// NewCapabilityIssuer creates an issuer. Expiry is measured on clk.
func NewCapabilityIssuer(secret string, ttl time.Duration, clk clock.Clock) (*CapabilityIssuer, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultCapabilityTTL
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &CapabilityIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clk,
		// Expiry is checked against the injected clock below.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		consumed: make(map[string]time.Time),
	}, nil
}

// Issue returns a token allowing principal to perform kind on project
// once.
func (i *CapabilityIssuer) Issue(principal entity.Slug, kind entity.ActionKind, project entity.Slug) (string, error) {
	now := i.clock.Now()
	claims := CapabilityClaims{
		Action:  kind,
		Project: project.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   principal.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing capability token: %w", err)
	}
	return signed, nil
}

// Consume checks that token was issued for principal, kind and project,
// has not expired and has not been used, then marks it used.
func (i *CapabilityIssuer) Consume(token string, principal entity.Slug, kind entity.ActionKind, project entity.Slug) error {
	claims := &CapabilityClaims{}
	parsed, err := i.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrTokenInvalid
	}

	now := i.clock.Now()
	if !claims.VerifyExpiresAt(now, true) {
		return ErrTokenExpired
	}
	if claims.Action != kind || claims.Project != project.String() || claims.Subject != principal.String() {
		return ErrTokenScope
	}
	if claims.ID == "" {
		return ErrTokenInvalid
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, used := i.consumed[claims.ID]; used {
		return ErrTokenReused
	}
	i.consumed[claims.ID] = claims.ExpiresAt.Time
	return nil
}

// Sweep forgets consumed tokens that have expired and returns how many
// were dropped. An expired token is rejected on expiry alone.
func (i *CapabilityIssuer) Sweep() int {
	now := i.clock.Now()

	i.mu.Lock()
	defer i.mu.Unlock()

	dropped := 0
	for id, expiry := range i.consumed {
		if !now.Before(expiry) {
			delete(i.consumed, id)
			dropped++
		}
	}
	return dropped
}

// Outstanding returns the number of consumed tokens still remembered.
func (i *CapabilityIssuer) Outstanding() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.consumed)
}
