package console

import (
	"bytes"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	DisableColor()
	var buf bytes.Buffer
	t.Cleanup(SetOutput(&buf))
	return &buf
}

func TestPrint(t *testing.T) {
	tests := []struct {
		name     string
		print    func()
		expected string
	}{
		{
			name:     "print",
			print:    func() { Print("count:", 42, " items") },
			expected: "count:42 items",
		},
		{
			name:     "println",
			print:    func() { Println("hello", "world") },
			expected: "hello world\n",
		},
		{
			name:     "printf",
			print:    func() { Printf("%s-%d", "alice", 7) },
			expected: "alice-7",
		},
		{
			name:     "heading",
			print:    func() { Heading("Helper") },
			expected: "Helper\n",
		},
		{
			name:     "success",
			print:    func() { Success("ping %s", "ok") },
			expected: "✔ ping ok\n",
		},
		{
			name:     "failure",
			print:    func() { Failure("ping %s", "failed") },
			expected: "✘ ping failed\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t)
			tt.print()
			if got := buf.String(); got != tt.expected {
				t.Errorf("output = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFields(t *testing.T) {
	buf := capture(t)

	Fields(map[string]interface{}{
		"socket":  "/run/project-host/helper.sock",
		"dials":   1,
		"address": "127.0.0.1:7723",
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Fields() printed %d lines, want 3: %q", len(lines), buf.String())
	}
	want := []string{
		"  address  127.0.0.1:7723",
		"  dials    1",
		"  socket   /run/project-host/helper.sock",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestSetOutput_Restore(t *testing.T) {
	var first, second bytes.Buffer
	restoreFirst := SetOutput(&first)
	restoreSecond := SetOutput(&second)

	Print("b")
	restoreSecond()
	Print("a")
	restoreFirst()

	if first.String() != "a" || second.String() != "b" {
		t.Errorf("outputs = %q, %q, want \"a\", \"b\"", first.String(), second.String())
	}
}
