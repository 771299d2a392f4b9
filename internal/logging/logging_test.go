package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"meshmon/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Leveler
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := parseLevel(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: expected %v, got %v", tc.in, tc.want, got)
		}
	}

	if _, err := parseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestManagerConfigure_WritesToLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "meshmon.log")

	m := NewManager()
	defer func() { _ = m.Close() }()

	err := m.Configure(config.LoggingConfig{Level: "info", LogToFile: true}, logPath)
	if err != nil {
		t.Fatalf("configure logging: %v", err)
	}

	m.Logger("test").Info("startup line")

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "startup line") {
		t.Fatalf("expected log line in file, got %q", raw)
	}
	if !strings.Contains(string(raw), "component=test") {
		t.Fatalf("expected component attribute in log line, got %q", raw)
	}
}

func TestManagerConfigure_RejectsBadLevel(t *testing.T) {
	m := NewManager()
	defer func() { _ = m.Close() }()

	if err := m.Configure(config.LoggingConfig{Level: "chatty"}, ""); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}
