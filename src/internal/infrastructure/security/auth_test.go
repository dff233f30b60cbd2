package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

const testSecret = "test-secret-key-that-is-at-least-32-characters-long"

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewBearerAuthenticator(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		ttl     time.Duration
		wantTTL time.Duration
		wantErr bool
	}{
		{name: "valid secret", secret: testSecret, ttl: time.Hour, wantTTL: time.Hour},
		{name: "default ttl", secret: testSecret, wantTTL: DefaultBearerTTL},
		{name: "empty secret", secret: "", wantErr: true},
		{name: "short secret", secret: "too-short", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := NewBearerAuthenticator(tt.secret, tt.ttl, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBearerAuthenticator() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && auth.TTL() != tt.wantTTL {
				t.Errorf("TTL() = %v, want %v", auth.TTL(), tt.wantTTL)
			}
		})
	}
}

func TestBearerAuthenticator_RoundTrip(t *testing.T) {
	auth, err := NewBearerAuthenticator(testSecret, time.Hour, testclock.NewClock(epoch))
	if err != nil {
		t.Fatalf("Failed to create authenticator: %v", err)
	}

	token, err := auth.Issue("forge-webhook")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	subject, err := auth.Authenticate(token)
	if err != nil || subject != "forge-webhook" {
		t.Errorf("Authenticate() = %q, %v; want forge-webhook", subject, err)
	}
}

func TestBearerAuthenticator_TokensRotate(t *testing.T) {
	auth, _ := NewBearerAuthenticator(testSecret, time.Hour, testclock.NewClock(epoch))

	first, _ := auth.Issue("control")
	second, _ := auth.Issue("control")
	if first == second {
		t.Error("Issue() returned the same token twice for one subject")
	}
	for _, token := range []string{first, second} {
		if subject, err := auth.Authenticate(token); err != nil || subject != "control" {
			t.Errorf("Authenticate() = %q, %v; want control", subject, err)
		}
	}
}

func TestBearerAuthenticator_Expiry(t *testing.T) {
	clk := testclock.NewClock(epoch)
	auth, _ := NewBearerAuthenticator(testSecret, 10*time.Minute, clk)

	token, _ := auth.Issue("control")
	hook, _ := auth.IssueFor("shop-12", 24*time.Hour)

	clk.Advance(9 * time.Minute)
	if _, err := auth.Authenticate(token); err != nil {
		t.Errorf("Authenticate() before expiry = %v", err)
	}

	clk.Advance(time.Minute)
	if _, err := auth.Authenticate(token); !errors.Is(err, ErrBearerExpired) {
		t.Errorf("Authenticate() at expiry = %v, want %v", err, ErrBearerExpired)
	}
	if subject, err := auth.Authenticate(hook); err != nil || subject != "shop-12" {
		t.Errorf("Authenticate(long-lived) = %q, %v", subject, err)
	}

	if _, err := auth.IssueFor("control", 0); err == nil {
		t.Error("IssueFor() with a zero lifetime should fail")
	}
}

func TestBearerAuthenticator_Rejects(t *testing.T) {
	clk := testclock.NewClock(epoch)
	auth, _ := NewBearerAuthenticator(testSecret, time.Hour, clk)
	other, _ := NewBearerAuthenticator(strings.Repeat("x", 40), time.Hour, clk)
	forged, _ := other.Issue("forge-webhook")
	valid, _ := auth.Issue("forge-webhook")
	parts := strings.Split(valid, ".")

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "not a token", token: "forge-webhook"},
		{name: "other secret", token: forged},
		{name: "truncated signature", token: parts[0] + "." + parts[1] + "." + parts[2][:10]},
		{name: "unsigned", token: parts[0] + "." + parts[1] + "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := auth.Authenticate(tt.token); !errors.Is(err, ErrInvalidBearer) {
				t.Errorf("Authenticate(%q) error = %v, want ErrInvalidBearer", tt.token, err)
			}
		})
	}

	for _, subject := range []string{"", "with space"} {
		if _, err := auth.Issue(subject); err == nil {
			t.Errorf("Issue(%q) should fail", subject)
		}
	}
}

func TestNewRunID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRunID()
		if !strings.HasPrefix(id, "run_") {
			t.Fatalf("NewRunID() = %q, want run_ prefix", id)
		}
		if seen[id] {
			t.Fatalf("NewRunID() repeated %q", id)
		}
		seen[id] = true
	}
}

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken() error = %v", err)
	}
	if len(token) != 64 {
		t.Errorf("len(token) = %d, want 64", len(token))
	}
	if _, err := GenerateSecureToken(0); err == nil {
		t.Error("GenerateSecureToken(0) should fail")
	}
}
