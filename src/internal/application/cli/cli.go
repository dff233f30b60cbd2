// Package cli holds the command-line plumbing shared by the project-host
// binaries: flag parsing, configuration loading, logger setup and signal
// handling.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kodflow/project-host/src/internal/infrastructure/config"
	"github.com/kodflow/project-host/src/internal/infrastructure/console"
	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
	"github.com/kodflow/project-host/src/internal/version"
)

// ErrHandled is returned by Options.Parse when a flag such as --help or
// --version was served and the binary should exit successfully.
var ErrHandled = errors.New("handled")

// Options are the flags every binary accepts.
type Options struct {
	Binary      string
	Description string

	ConfigFile string
	EnvFile    string
	LogLevel   string
	Version    bool
	Help       bool

	flags *pflag.FlagSet
}

// NewOptions registers the common flags of binary.
func NewOptions(binary, description string) *Options {
	o := &Options{Binary: binary, Description: description}
	fs := pflag.NewFlagSet(binary, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&o.ConfigFile, "config", "c", "", "YAML configuration file")
	fs.StringVar(&o.EnvFile, "env-file", "", "dotenv file read before the environment")
	fs.StringVar(&o.LogLevel, "log-level", "", "override the configured log level")
	fs.BoolVarP(&o.Version, "version", "v", false, "show version information")
	fs.BoolVarP(&o.Help, "help", "h", false, "show this help")
	o.flags = fs
	return o
}

// Flags exposes the flag set so binaries can add their own flags.
func (o *Options) Flags() *pflag.FlagSet {
	return o.flags
}

// Parse parses args. It prints help or version and returns ErrHandled
// when asked to.
func (o *Options) Parse(args []string) error {
	if err := o.flags.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", o.Binary, err)
	}
	if o.Help {
		o.PrintHelp()
		return ErrHandled
	}
	if o.Version {
		console.Println(version.GetFullVersion(o.Binary))
		return ErrHandled
	}
	return nil
}

// Args returns the positional arguments left after parsing.
func (o *Options) Args() []string {
	return o.flags.Args()
}

// PrintHelp writes usage to the console.
func (o *Options) PrintHelp() {
	console.Heading(o.Binary)
	if o.Description != "" {
		console.Println(o.Description)
	}
	console.Println()
	console.Println("Usage:")
	console.Printf("  %s [options]\n", o.Binary)
	console.Println()
	console.Println("Options:")
	console.Print(o.flags.FlagUsages())
	console.Println()
	console.Printf("Every setting can be overridden with a %s* environment variable.\n", config.EnvPrefix)
}

// LoadConfig loads the configuration selected by the flags.
func (o *Options) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigFile, o.EnvFile)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// InitLogger sets up the global logger from cfg. A logger that cannot
// open its file falls back to stdout.
func InitLogger(binary string, cfg *config.Config) {
	err := logger.Initialize(logger.Config{
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
	}
	logger.WithFields(version.Fields()).WithField("binary", binary).Info("Starting")
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Exit reports err and exits with status 1, or returns when err is nil or
// ErrHandled.
func Exit(err error) {
	if err == nil || errors.Is(err, ErrHandled) {
		return
	}
	console.Failure("%v", err)
	os.Exit(1)
}
