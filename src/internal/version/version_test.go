package version

import (
	"runtime"
	"strings"
	"testing"
)

func setBuildInfo(t *testing.T, version, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = version, commit, date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})
}

func TestGetFullVersion(t *testing.T) {
	setBuildInfo(t, "1.0.0", "abc123", "2026-01-01")

	full := GetFullVersion("project-helper")

	for _, want := range []string{
		"project-helper", "1.0.0", "abc123", "2026-01-01",
		runtime.Version(), runtime.GOOS, runtime.GOARCH,
	} {
		if !strings.Contains(full, want) {
			t.Errorf("GetFullVersion() = %q, want it to contain %q", full, want)
		}
	}
}

func TestGetShortVersion(t *testing.T) {
	setBuildInfo(t, "1.2.3", "x", "y")
	if short := GetShortVersion(); short != "1.2.3" {
		t.Errorf("GetShortVersion() = %q, want %q", short, "1.2.3")
	}
}

func TestFields(t *testing.T) {
	setBuildInfo(t, "2.0.0", "def456", "2026-02-02")

	fields := Fields()
	if fields["version"] != "2.0.0" || fields["commit"] != "def456" || fields["date"] != "2026-02-02" {
		t.Errorf("Fields() = %v", fields)
	}
	if fields["go"] != runtime.Version() {
		t.Errorf("Fields()[go] = %v, want %s", fields["go"], runtime.Version())
	}
}
