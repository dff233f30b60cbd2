// Package console provides CLI output for the project-host binaries.
// This package centralizes console output (help, version, probe results)
// separate from logging.
package console

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/fatih/color"
)

var (
	mu  sync.Mutex
	out io.Writer = color.Output

	heading = color.New(color.Bold, color.FgCyan)
	success = color.New(color.FgGreen)
	failure = color.New(color.FgRed, color.Bold)
	key     = color.New(color.FgYellow)
)

// SetOutput redirects console output and returns a function restoring the
// previous writer.
func SetOutput(w io.Writer) func() {
	mu.Lock()
	prev := out
	out = w
	mu.Unlock()
	return func() {
		mu.Lock()
		out = prev
		mu.Unlock()
	}
}

// DisableColor turns color escapes off for every helper.
func DisableColor() {
	color.NoColor = true
}

func writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Print outputs to stdout for CLI interactions (help, version, etc.)
// This is intentionally separate from the logger which is for service operations.
func Print(a ...interface{}) {
	_, _ = fmt.Fprint(writer(), a...)
}

// Println outputs to stdout with newline for CLI interactions
func Println(a ...interface{}) {
	_, _ = fmt.Fprintln(writer(), a...)
}

// Printf outputs formatted text to stdout for CLI interactions
func Printf(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(writer(), format, a...)
}

// Heading prints a bold section title.
func Heading(title string) {
	_, _ = heading.Fprintln(writer(), title)
}

// Success prints a line prefixed with a check mark.
func Success(format string, a ...interface{}) {
	_, _ = success.Fprintf(writer(), "✔ "+format+"\n", a...)
}

// Failure prints a line prefixed with a cross.
func Failure(format string, a ...interface{}) {
	_, _ = failure.Fprintf(writer(), "✘ "+format+"\n", a...)
}

// Fields prints key/value pairs sorted by key.
func Fields(fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	w := writer()
	for _, k := range keys {
		_, _ = key.Fprintf(w, "  %-*s", width, k)
		_, _ = fmt.Fprintf(w, "  %v\n", fields[k])
	}
}
