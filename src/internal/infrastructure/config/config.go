// Package config loads the configuration shared by the project-host binaries.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then PROJECT_HOST_* environment variables. The process
// environment always wins over the .env file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kodflow/project-host/src/internal/domain/entity"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PROJECT_HOST_"

// MinSecretLength mirrors the bearer authenticator requirement.
const MinSecretLength = 32

// ErrSecretRequired is returned by RequireSecret when no usable secret is set.
var ErrSecretRequired = errors.New("secret is required and must be at least 32 characters")

// Config represents the service configuration.
type Config struct {
	Secret    string          `yaml:"secret"`
	Helper    HelperConfig    `yaml:"helper"`
	Hosting   HostingConfig   `yaml:"hosting"`
	TLS       TLSConfig       `yaml:"tls"`
	Layout    LayoutConfig    `yaml:"layout"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// HelperConfig configures the privileged helper daemon.
type HelperConfig struct {
	Socket      string `yaml:"socket" validate:"required"`
	SocketMode  uint32 `yaml:"socket_mode"`
	ServiceUser string `yaml:"service_user" validate:"required"`
	Workers     int    `yaml:"workers" validate:"gt=0"`
}

// HostingConfig configures the hosting controller endpoint.
type HostingConfig struct {
	Address           string   `yaml:"address" validate:"required"`
	Workers           int      `yaml:"workers" validate:"gt=0"`
	RequestsPerSecond int      `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int      `yaml:"burst" validate:"gt=0"`
	ReloadCommand     []string `yaml:"reload_command"`
	StopCommand       []string `yaml:"stop_command"`
}

// LayoutConfig names the directory roots the helper may touch.
type LayoutConfig struct {
	ProjectsRoot  string `yaml:"projects_root" validate:"abspath"`
	SnapshotsRoot string `yaml:"snapshots_root" validate:"abspath"`
	HomeRoot      string `yaml:"home_root" validate:"abspath"`
	ProdRoot      string `yaml:"prod_root" validate:"abspath"`
}

// SnapshotConfig selects the snapshot driver.
type SnapshotConfig struct {
	Driver string `yaml:"driver" validate:"oneof=copy btrfs"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
}

// SchedulerConfig holds the maintenance job schedules of project-ctl.
type SchedulerConfig struct {
	HelperPing        time.Duration `yaml:"helper_ping" validate:"gt=0"`
	CredentialRefresh time.Duration `yaml:"credential_refresh" validate:"gt=0"`
	CredentialTTL     time.Duration `yaml:"credential_ttl" validate:"gtfield=CredentialRefresh"`
	TokenSweep        string        `yaml:"token_sweep" validate:"required"`
	CapabilityTTL     time.Duration `yaml:"capability_ttl" validate:"gt=0"`
	Workers           int           `yaml:"workers" validate:"gt=0"`
	RunHistory        int           `yaml:"run_history" validate:"gt=0"`
	HistoryCleanup    string        `yaml:"history_cleanup" validate:"required"`
	HistoryRetention  time.Duration `yaml:"history_retention" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Helper: HelperConfig{
			Socket:      "/run/project-host/helper.sock",
			SocketMode:  0o660,
			ServiceUser: "www-data",
			Workers:     4,
		},
		Hosting: HostingConfig{
			Address:           "127.0.0.1:7723",
			Workers:           4,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		TLS: TLSConfig{},
		Layout: LayoutConfig{
			ProjectsRoot:  "/srv/projects",
			SnapshotsRoot: "/srv/snapshots",
			HomeRoot:      "/home",
			ProdRoot:      "/srv/prod",
		},
		Snapshots: SnapshotConfig{Driver: "copy"},
		Log: LogConfig{
			Level:      "info",
			File:       "/var/log/project-host/project-host.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Scheduler: SchedulerConfig{
			HelperPing:        30 * time.Second,
			CredentialRefresh: 10 * time.Minute,
			CredentialTTL:     30 * time.Minute,
			TokenSweep:        "@every 5m",
			CapabilityTTL:     5 * time.Minute,
			Workers:           2,
			RunHistory:        100,
			HistoryCleanup:    "@hourly",
			HistoryRetention:  24 * time.Hour,
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path and the
// .env file at envFile, then applies environment overrides and validates
// the result. Either path may be empty.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("reading env file: %w", err)
		}
		dotenv = vars
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"SECRET":           &c.Secret,
		"HELPER_SOCKET":    &c.Helper.Socket,
		"SERVICE_USER":     &c.Helper.ServiceUser,
		"HOSTING_ADDRESS":  &c.Hosting.Address,
		"PROJECTS_ROOT":    &c.Layout.ProjectsRoot,
		"SNAPSHOTS_ROOT":   &c.Layout.SnapshotsRoot,
		"HOME_ROOT":        &c.Layout.HomeRoot,
		"PROD_ROOT":        &c.Layout.ProdRoot,
		"SNAPSHOT_DRIVER":  &c.Snapshots.Driver,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FILE":         &c.Log.File,
		"TLS_CERT":         &c.TLS.CertFile,
		"TLS_KEY":          &c.TLS.KeyFile,
		"TLS_CA":           &c.TLS.CAFile,
		"TLS_SERVER_NAME":  &c.TLS.ServerName,
		"TOKEN_SWEEP_CRON": &c.Scheduler.TokenSweep,
		"HISTORY_CLEANUP":  &c.Scheduler.HistoryCleanup,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "SECRET_FILE"); ok {
		data, err := os.ReadFile(v)
		if err != nil {
			return fmt.Errorf("reading %sSECRET_FILE: %w", EnvPrefix, err)
		}
		c.Secret = strings.TrimSpace(string(data))
	}

	if v, ok := lookup(EnvPrefix + "TLS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %sTLS_ENABLED: %w", EnvPrefix, err)
		}
		c.TLS.Enabled = enabled
	}

	ints := map[string]*int{
		"HELPER_WORKERS":      &c.Helper.Workers,
		"HOSTING_WORKERS":     &c.Hosting.Workers,
		"REQUESTS_PER_SECOND": &c.Hosting.RequestsPerSecond,
		"BURST":               &c.Hosting.Burst,
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"HELPER_PING_INTERVAL":  &c.Scheduler.HelperPing,
		"CREDENTIAL_REFRESH":    &c.Scheduler.CredentialRefresh,
		"CREDENTIAL_TTL":        &c.Scheduler.CredentialTTL,
		"CAPABILITY_TOKEN_TTL":  &c.Scheduler.CapabilityTTL,
		"RUN_HISTORY_RETENTION": &c.Scheduler.HistoryRetention,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "SOCKET_MODE"); ok {
		mode, err := strconv.ParseUint(v, 8, 32)
		if err != nil {
			return fmt.Errorf("parsing %sSOCKET_MODE: %w", EnvPrefix, err)
		}
		c.Helper.SocketMode = uint32(mode)
	}

	return nil
}

// Validate checks every section. The secret is only checked when set; use
// RequireSecret in binaries that cannot run without one.
func (c *Config) Validate() error {
	if err := entity.Validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Secret != "" && len(c.Secret) < MinSecretLength {
		return ErrSecretRequired
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("invalid tls configuration: %w", err)
	}
	return nil
}

// RequireSecret returns ErrSecretRequired unless a usable secret is set.
func (c *Config) RequireSecret() error {
	if len(c.Secret) < MinSecretLength {
		return ErrSecretRequired
	}
	return nil
}
