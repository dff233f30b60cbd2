package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.Helper != want.Helper {
		t.Errorf("Helper = %+v, want %+v", cfg.Helper, want.Helper)
	}
	if cfg.Layout != want.Layout {
		t.Errorf("Layout = %+v, want %+v", cfg.Layout, want.Layout)
	}
	if cfg.Scheduler != want.Scheduler {
		t.Errorf("Scheduler = %+v, want %+v", cfg.Scheduler, want.Scheduler)
	}
	if cfg.Snapshots.Driver != "copy" {
		t.Errorf("Snapshots.Driver = %q, want copy", cfg.Snapshots.Driver)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "project-host.yaml", `
secret: `+testSecret+`
helper:
  socket: /tmp/helper.sock
  socket_mode: 0600
hosting:
  address: 0.0.0.0:9000
  reload_command: ["systemctl", "reload", "nginx"]
layout:
  projects_root: /data/projects
snapshots:
  driver: btrfs
log:
  level: debug
scheduler:
  helper_ping: 45s
  token_sweep: "*/2 * * * *"
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"secret", cfg.Secret, testSecret},
		{"socket", cfg.Helper.Socket, "/tmp/helper.sock"},
		{"socket mode", cfg.Helper.SocketMode, uint32(0o600)},
		{"service user default kept", cfg.Helper.ServiceUser, "www-data"},
		{"hosting address", cfg.Hosting.Address, "0.0.0.0:9000"},
		{"reload command", strings.Join(cfg.Hosting.ReloadCommand, " "), "systemctl reload nginx"},
		{"projects root", cfg.Layout.ProjectsRoot, "/data/projects"},
		{"snapshots root default kept", cfg.Layout.SnapshotsRoot, "/srv/snapshots"},
		{"driver", cfg.Snapshots.Driver, "btrfs"},
		{"log level", cfg.Log.Level, "debug"},
		{"helper ping", cfg.Scheduler.HelperPing, 45 * time.Second},
		{"token sweep", cfg.Scheduler.TokenSweep, "*/2 * * * *"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_EnvLayers(t *testing.T) {
	path := writeFile(t, "config.yaml", "hosting:\n  address: 10.0.0.1:7000\nlog:\n  level: error\n")
	envFile := writeFile(t, ".env", strings.Join([]string{
		"PROJECT_HOST_HOSTING_ADDRESS=10.0.0.2:7000",
		"PROJECT_HOST_LOG_LEVEL=warn",
		"PROJECT_HOST_HELPER_WORKERS=8",
		"PROJECT_HOST_TLS_ENABLED=false",
	}, "\n"))

	// The process environment wins over the .env file.
	t.Setenv("PROJECT_HOST_LOG_LEVEL", "debug")
	t.Setenv("PROJECT_HOST_CREDENTIAL_REFRESH", "90s")
	t.Setenv("PROJECT_HOST_CREDENTIAL_TTL", "5m")
	t.Setenv("PROJECT_HOST_RUN_HISTORY_RETENTION", "72h")
	t.Setenv("PROJECT_HOST_SOCKET_MODE", "0640")

	cfg, err := Load(path, envFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hosting.Address != "10.0.0.2:7000" {
		t.Errorf("Hosting.Address = %q, want value from .env", cfg.Hosting.Address)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want value from environment", cfg.Log.Level)
	}
	if cfg.Helper.Workers != 8 {
		t.Errorf("Helper.Workers = %d, want 8", cfg.Helper.Workers)
	}
	if cfg.Scheduler.CredentialRefresh != 90*time.Second {
		t.Errorf("Scheduler.CredentialRefresh = %v, want 90s", cfg.Scheduler.CredentialRefresh)
	}
	if cfg.Scheduler.CredentialTTL != 5*time.Minute {
		t.Errorf("Scheduler.CredentialTTL = %v, want 5m", cfg.Scheduler.CredentialTTL)
	}
	if cfg.Scheduler.HistoryRetention != 72*time.Hour {
		t.Errorf("Scheduler.HistoryRetention = %v, want 72h", cfg.Scheduler.HistoryRetention)
	}
	if cfg.Helper.SocketMode != 0o640 {
		t.Errorf("Helper.SocketMode = %o, want 640", cfg.Helper.SocketMode)
	}
}

func TestLoad_SecretFile(t *testing.T) {
	secretFile := writeFile(t, "secret", testSecret+"\n")
	t.Setenv("PROJECT_HOST_SECRET_FILE", secretFile)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Secret != testSecret {
		t.Errorf("Secret = %q, want trimmed file content", cfg.Secret)
	}
	if err := cfg.RequireSecret(); err != nil {
		t.Errorf("RequireSecret() = %v, want nil", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown field", yaml: "helper:\n  sockett: /x\n", wantErr: "parsing config file"},
		{name: "bad driver", yaml: "snapshots:\n  driver: zfs\n", wantErr: "oneof"},
		{name: "relative root", yaml: "layout:\n  home_root: home\n", wantErr: "abspath"},
		{name: "zero workers", yaml: "hosting:\n  workers: 0\n", wantErr: "gt"},
		{name: "bad level", yaml: "log:\n  level: loud\n", wantErr: "oneof"},
		{name: "credential expires before refresh", yaml: "scheduler:\n  credential_ttl: 5m\n", wantErr: "gtfield"},
		{name: "zero history retention", yaml: "scheduler:\n  history_retention: 0s\n", wantErr: "HistoryRetention"},
		{name: "short secret", yaml: "secret: short\n", wantErr: "at least 32"},
		{name: "bad int env", env: map[string]string{"PROJECT_HOST_BURST": "many"}, wantErr: "PROJECT_HOST_BURST"},
		{name: "bad duration env", env: map[string]string{"PROJECT_HOST_HELPER_PING_INTERVAL": "soon"}, wantErr: "HELPER_PING_INTERVAL"},
		{name: "bad bool env", env: map[string]string{"PROJECT_HOST_TLS_ENABLED": "maybe"}, wantErr: "TLS_ENABLED"},
		{name: "missing secret file", env: map[string]string{"PROJECT_HOST_SECRET_FILE": "/nonexistent/secret"}, wantErr: "SECRET_FILE"},
		{name: "tls files missing", env: map[string]string{"PROJECT_HOST_TLS_ENABLED": "true", "PROJECT_HOST_TLS_CA": "/nonexistent/ca.pem"}, wantErr: "tls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, "config.yaml", tt.yaml)
			}

			_, err := Load(path, "")
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml", ""); err == nil {
		t.Error("Load() with missing config file should fail")
	}
	if _, err := Load("", "/nonexistent/.env"); err == nil {
		t.Error("Load() with missing env file should fail")
	}
}

func TestValidate_ReturnsValidationError(t *testing.T) {
	cfg := Default()
	cfg.Layout.ProdRoot = "/srv/../prod"

	err := cfg.Validate()
	var verr *entity.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *entity.ValidationError", err)
	}
	if verr.Field != "ProdRoot" {
		t.Errorf("ValidationError.Field = %q, want ProdRoot", verr.Field)
	}
}

func TestRequireSecret(t *testing.T) {
	cfg := Default()
	if err := cfg.RequireSecret(); !errors.Is(err, ErrSecretRequired) {
		t.Errorf("RequireSecret() = %v, want ErrSecretRequired", err)
	}
	cfg.Secret = testSecret
	if err := cfg.RequireSecret(); err != nil {
		t.Errorf("RequireSecret() = %v, want nil", err)
	}
}
