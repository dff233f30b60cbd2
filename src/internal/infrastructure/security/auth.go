// Package security provides the credentials checked on the command
// channel: expiring bearer tokens for machine callers and single-use
// capability tokens for direct upload and view flows.
package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

// ControlSubject is the subject of the credential project-ctl presents
// to the hosting controller.
const ControlSubject = "control"

// DefaultBearerTTL is the lifetime of a bearer token when none is
// configured.
const DefaultBearerTTL = 30 * time.Minute

// Bearer token errors.
var (
	ErrInvalidBearer = errors.New("invalid bearer token")
	ErrBearerExpired = errors.New("bearer token has expired")
)

// Authenticator validates bearer tokens presented by machine callers.
type Authenticator interface {
	Authenticate(token string) (subject string, err error)
}

// BearerAuthenticator issues and checks HS256 tokens naming a subject.
// Every token carries its own id and expiry, so two tokens issued for the
// same subject differ.
type BearerAuthenticator struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	parser *jwt.Parser
}

func checkSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("HMAC secret cannot be empty")
	}
	if len(secret) < MinSecretLength {
		return fmt.Errorf("HMAC secret must be at least %d characters long for security", MinSecretLength)
	}
	return nil
}

// NewBearerAuthenticator creates an authenticator signing with secret.
// Tokens live for ttl, measured on clk.
func NewBearerAuthenticator(secret string, ttl time.Duration, clk clock.Clock) (*BearerAuthenticator, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultBearerTTL
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &BearerAuthenticator{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the default token lifetime.
func (a *BearerAuthenticator) TTL() time.Duration {
	return a.ttl
}

// Issue returns a token for subject valid for the default lifetime.
func (a *BearerAuthenticator) Issue(subject string) (string, error) {
	return a.IssueFor(subject, a.ttl)
}

// IssueFor returns a token for subject valid for ttl.
func (a *BearerAuthenticator) IssueFor(subject string, ttl time.Duration) (string, error) {
	if subject == "" || strings.ContainsAny(subject, " \t\n") {
		return "", fmt.Errorf("invalid bearer subject %q", subject)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("invalid bearer lifetime %v", ttl)
	}

	now := a.clock.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing bearer token: %w", err)
	}
	return signed, nil
}

// Authenticate checks token and returns its subject.
func (a *BearerAuthenticator) Authenticate(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return "", ErrInvalidBearer
	}
	if !claims.VerifyExpiresAt(a.clock.Now(), true) {
		return "", ErrBearerExpired
	}
	return claims.Subject, nil
}
