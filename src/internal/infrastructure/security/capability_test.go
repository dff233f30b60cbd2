package security

import (
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

var (
	alice    = entity.Slug{ID: 7, Name: "alice"}
	bob      = entity.Slug{ID: 8, Name: "bob"}
	project  = entity.Slug{ID: 1, Name: "site"}
	capEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newIssuer(t *testing.T) (*CapabilityIssuer, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(capEpoch)
	issuer, err := NewCapabilityIssuer(testSecret, time.Minute, clk)
	if err != nil {
		t.Fatalf("NewCapabilityIssuer() error = %v", err)
	}
	return issuer, clk
}

func TestCapability_SingleUse(t *testing.T) {
	issuer, _ := newIssuer(t)

	token, err := issuer.Issue(alice, entity.ActionCreateFile, project)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := issuer.Consume(token, alice, entity.ActionCreateFile, project); err != nil {
		t.Fatalf("first Consume() error = %v", err)
	}
	if err := issuer.Consume(token, alice, entity.ActionCreateFile, project); !errors.Is(err, ErrTokenReused) {
		t.Errorf("second Consume() error = %v, want ErrTokenReused", err)
	}
}

func TestCapability_Scope(t *testing.T) {
	issuer, _ := newIssuer(t)
	token, _ := issuer.Issue(alice, entity.ActionViewFile, project)

	tests := []struct {
		name      string
		principal entity.Slug
		kind      entity.ActionKind
		project   entity.Slug
	}{
		{name: "other principal", principal: bob, kind: entity.ActionViewFile, project: project},
		{name: "other action", principal: alice, kind: entity.ActionUpdateFile, project: project},
		{name: "other project", principal: alice, kind: entity.ActionViewFile, project: entity.Slug{ID: 2, Name: "site"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := issuer.Consume(token, tt.principal, tt.kind, tt.project); !errors.Is(err, ErrTokenScope) {
				t.Errorf("Consume() error = %v, want ErrTokenScope", err)
			}
		})
	}

	// Out-of-scope attempts do not burn the token.
	if err := issuer.Consume(token, alice, entity.ActionViewFile, project); err != nil {
		t.Errorf("Consume() in scope error = %v", err)
	}
}

func TestCapability_Expiry(t *testing.T) {
	issuer, clk := newIssuer(t)
	token, _ := issuer.Issue(alice, entity.ActionUpdateFile, project)

	clk.Advance(2 * time.Minute)
	if err := issuer.Consume(token, alice, entity.ActionUpdateFile, project); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Consume() after expiry error = %v, want ErrTokenExpired", err)
	}
}

func TestCapability_Invalid(t *testing.T) {
	issuer, clk := newIssuer(t)
	other, err := NewCapabilityIssuer("another-secret-that-is-long-enough-to-use", time.Minute, clk)
	if err != nil {
		t.Fatal(err)
	}
	forged, _ := other.Issue(alice, entity.ActionCreateDir, project)

	for _, token := range []string{"", "garbage", forged} {
		if err := issuer.Consume(token, alice, entity.ActionCreateDir, project); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Consume(%q) error = %v, want ErrTokenInvalid", token, err)
		}
	}

	if _, err := NewCapabilityIssuer("short", time.Minute, clk); err == nil {
		t.Error("NewCapabilityIssuer() with a short secret should fail")
	}
}

func TestCapability_Sweep(t *testing.T) {
	issuer, clk := newIssuer(t)

	first, _ := issuer.Issue(alice, entity.ActionCreateFile, project)
	_ = issuer.Consume(first, alice, entity.ActionCreateFile, project)

	clk.Advance(30 * time.Second)
	second, _ := issuer.Issue(alice, entity.ActionCreateFile, project)
	_ = issuer.Consume(second, alice, entity.ActionCreateFile, project)

	if got := issuer.Sweep(); got != 0 {
		t.Errorf("Sweep() before expiry = %d, want 0", got)
	}

	clk.Advance(45 * time.Second)
	if got := issuer.Sweep(); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if got := issuer.Outstanding(); got != 1 {
		t.Errorf("Outstanding() = %d, want 1", got)
	}

	// A swept token stays unusable because it has expired.
	if err := issuer.Consume(first, alice, entity.ActionCreateFile, project); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Consume() of a swept token = %v, want ErrTokenExpired", err)
	}
}
