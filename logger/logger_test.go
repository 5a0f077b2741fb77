package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"error", ERROR},
		{"WARN", WARN},
		{"warning", WARN},
		{"info", INFO},
		{"debug", DEBUG},
		{"trace", TRACE},
		{"bogus", INFO},
		{"", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileOutputAndLevelFilter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := New(INFO, dir)
	l.SetConsoleOutput(false)

	l.Info("printer registered", "printer_id", 3, "device", "/dev/ttyACM0")
	l.Debug("should be filtered")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "server.log"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "printer registered") {
		t.Fatalf("info line missing: %q", content)
	}
	if !strings.Contains(content, "printer_id=3") || !strings.Contains(content, "device=/dev/ttyACM0") {
		t.Fatalf("context missing: %q", content)
	}
	if strings.Contains(content, "should be filtered") {
		t.Fatalf("debug line written at info level: %q", content)
	}
}

func TestSetLevel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := New(ERROR, dir)
	l.SetConsoleOutput(false)

	l.Info("hidden")
	l.SetLevel(TRACE)
	l.Trace("visible")
	l.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "server.log"))
	content := string(data)
	if strings.Contains(content, "hidden") {
		t.Fatalf("suppressed line written: %q", content)
	}
	if !strings.Contains(content, "visible") {
		t.Fatalf("trace line missing after SetLevel: %q", content)
	}
}
