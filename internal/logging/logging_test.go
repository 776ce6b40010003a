package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"dev":     slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"prod":    slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for env, want := range cases {
		t.Setenv("LOG_LEVEL", env)
		if got := Level(slog.LevelInfo); got != want {
			t.Errorf("LOG_LEVEL=%s: got %v, want %v", env, got, want)
		}
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "room", "r1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info to be filtered")
	}
	if !strings.Contains(out, "room=r1") {
		t.Errorf("Expected structured attribute, got %q", out)
	}
}
