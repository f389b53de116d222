package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "text")
	logger.Debug("hidden")
	logger.Info("shown", "user", "alice")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
	if !strings.Contains(out, "user=alice") || !strings.Contains(out, "service=cortexsoc") {
		t.Fatalf("unexpected text output: %s", out)
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "json").Debug("detail")
	if !strings.Contains(buf.String(), `"msg":"detail"`) {
		t.Fatalf("unexpected json output: %s", buf.String())
	}
}
