package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoggerFromContextAddsSession(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "debug")
	t.Cleanup(func() { Init(&bytes.Buffer{}, "info") })

	ctx := WithSession(context.Background(), "sess-42")
	LoggerFromContext(ctx).Debug("summary requested", "chars", 120)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["session_id"] != "sess-42" {
		t.Errorf("session_id = %v", line["session_id"])
	}
	if line["msg"] != "summary requested" {
		t.Errorf("msg = %v", line["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
