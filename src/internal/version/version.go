// Package version provides build information for the project-host binaries.
package version

import (
	"fmt"
	"runtime"
)

// Build information, injected at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// GetFullVersion returns the full version string of the named binary.
func GetFullVersion(binary string) string {
	return fmt.Sprintf("%s %s (%s) built on %s with %s for %s/%s",
		binary, Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// GetShortVersion returns just the version number.
func GetShortVersion() string {
	return Version
}

// Fields returns the build information as key/value pairs for display.
func Fields() map[string]interface{} {
	return map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
		"go":      runtime.Version(),
		"os/arch": runtime.GOOS + "/" + runtime.GOARCH,
	}
}
