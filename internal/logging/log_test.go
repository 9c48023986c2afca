package logging

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{"", log.InfoLevel},
		{"warning", log.WarnLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"bogus", log.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_WritesWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv(EnvLevel, "")

	logger := New(Options{Level: "debug", Output: &buf, Prefix: "executor"})
	logger.Debug("step started", "scenario", "connect-wallet")

	out := buf.String()
	if !strings.Contains(out, "executor") {
		t.Errorf("expected prefix in output, got %q", out)
	}
	if !strings.Contains(out, "scenario=connect-wallet") {
		t.Errorf("expected key/value in output, got %q", out)
	}
}

func TestNew_EnvOverridesLevel(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv(EnvLevel, "error")

	logger := New(Options{Level: "debug", Output: &buf})
	logger.Info("should be filtered")

	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered by env level, got %q", buf.String())
	}
}

func TestNewFile_CreatesDirectory(t *testing.T) {
	t.Setenv(EnvLevel, "")
	path := filepath.Join(t.TempDir(), "nested", "run.log")

	logger, closer, err := NewFile(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	defer closer.Close()

	logger.Info("hello")
}
