package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandler_JSONAndLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, "warn", "json"))
	log.Info("hidden")
	log.Warn("shown", "table", "t")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "shown" || rec["table"] != "t" {
		t.Fatalf("record = %v", rec)
	}
}

func TestFromContext_AddsRequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(NewHandler(&buf, "info", "text"))
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")

	FromContext(ctx, base).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Fatalf("output = %q", buf.String())
	}

	buf.Reset()
	FromContext(context.Background(), base).Info("plain")
	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("unexpected request_id: %q", buf.String())
	}
}
