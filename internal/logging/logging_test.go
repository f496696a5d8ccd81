package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Writer: &buf})

	log.With(String("component", "core")).Info(context.Background(), "node failed",
		Int("plane", 2),
		Float64("load", 1),
		Stringer("period", 1500*time.Millisecond),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "node failed" || rec["component"] != "core" || rec["error"] != "boom" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["period"] != "1.5s" {
		t.Fatalf("period = %v, want 1.5s", rec["period"])
	}
	if rec["plane"] != float64(2) {
		t.Fatalf("plane = %v, want 2", rec["plane"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Writer: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering failed: %q", out)
	}
}

func TestRequestIDHelpers(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRequestID returned empty id")
	}
	again, id2 := EnsureRequestID(ctx)
	if id2 != id || RequestIDFromContext(again) != id {
		t.Fatalf("request id not stable: %q vs %q", id, id2)
	}

	if got := FromContext(context.Background(), nil); got == nil {
		t.Fatalf("FromContext returned nil")
	}
	stored := Noop()
	if got := FromContext(ContextWithLogger(ctx, stored), nil); got != stored {
		t.Fatalf("FromContext did not return stored logger")
	}
}
