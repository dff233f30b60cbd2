// Package logger provides centralized logging with rotated file output.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/lumberjack/v2"
	"github.com/sirupsen/logrus"
)

var (
	instance *logrus.Logger
	once     sync.Once
	mu       sync.Mutex
	rotator  *lumberjack.Logger
)

// Config holds logger configuration.
type Config struct {
	Level      string
	FilePath   string
	MaxSizeMB  int // Max size in megabytes before rotation
	MaxBackups int // Number of backups to keep
	Compress   bool
}

// Initialize sets up the global logger instance.
func Initialize(cfg Config) error {
	var err error
	once.Do(func() {
		instance = logrus.New()

		level, parseErr := logrus.ParseLevel(cfg.Level)
		if parseErr != nil {
			level = logrus.InfoLevel
		}
		instance.SetLevel(level)

		instance.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			PrettyPrint:     false,
		})

		if cfg.FilePath == "" {
			instance.SetOutput(os.Stdout)
			return
		}

		var w io.Writer
		w, err = setupFileOutput(cfg)
		if err != nil {
			instance.SetOutput(os.Stdout)
			return
		}
		instance.SetOutput(io.MultiWriter(os.Stdout, w))
	})

	return err
}

func setupFileOutput(cfg Config) (io.Writer, error) {
	logDir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Fail early on an unwritable path; lumberjack would only report it
	// on the first write.
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	_ = f.Close() //nolint:errcheck // probe only

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}

	mu.Lock()
	rotator = &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	mu.Unlock()

	return rotator, nil
}

// Rotate forces a rotation of the log file. It is a no-op when logging
// to stdout only.
func Rotate() error {
	mu.Lock()
	defer mu.Unlock()
	if rotator == nil {
		return nil
	}
	return rotator.Rotate()
}

// Get returns the logger instance.
func Get() *logrus.Logger {
	mu.Lock()
	initialized := instance != nil
	mu.Unlock()
	if !initialized {
		if err := Initialize(Config{Level: "info"}); err != nil {
			instance = logrus.New()
		}
	}
	return instance
}

// WithField creates an entry with a single field.
func WithField(key string, value interface{}) *logrus.Entry {
	return Get().WithField(key, value)
}

// WithFields creates an entry with multiple fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

// Close flushes and closes the log file and allows Initialize to run
// again.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if rotator != nil {
		if instance != nil {
			instance.SetOutput(os.Stdout)
		}
		_ = rotator.Close() //nolint:errcheck // Switch to stdout, ignore close errors
		rotator = nil
	}
	instance = nil
	once = sync.Once{}
}

// Debug logs a debug message.
func Debug(args ...interface{}) { Get().Debug(args...) }

// Info logs an info message.
func Info(args ...interface{}) { Get().Info(args...) }

// Warn logs a warning message.
func Warn(args ...interface{}) { Get().Warn(args...) }

// Error logs an error message.
func Error(args ...interface{}) { Get().Error(args...) }

// Fatal logs a fatal message and exits.
func Fatal(args ...interface{}) { Get().Fatal(args...) }

// Debugf logs a formatted debug message.
func Debugf(format string, args ...interface{}) { Get().Debugf(format, args...) }

// Infof logs a formatted info message.
func Infof(format string, args ...interface{}) { Get().Infof(format, args...) }

// Warnf logs a formatted warning message.
func Warnf(format string, args ...interface{}) { Get().Warnf(format, args...) }

// Errorf logs a formatted error message.
func Errorf(format string, args ...interface{}) { Get().Errorf(format, args...) }

// Fatalf logs a formatted fatal message and exits.
func Fatalf(format string, args ...interface{}) { Get().Fatalf(format, args...) }
