package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoggerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "api", "test", "1.2.3", "debug").With(slog.String("feed", "radio"))
	l.Info(context.Background(), "feed_connected", "connected", slog.Int("attempt", 2))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["event"] != "feed_connected" {
		t.Fatalf("expected event key, got %#v", rec)
	}
	if _, ok := rec["ts"]; !ok {
		t.Fatalf("expected ts key, got %#v", rec)
	}
	if rec["feed"] != "radio" || rec["version"] != "1.2.3" || rec["msg"] != "connected" {
		t.Fatalf("unexpected attrs: %#v", rec)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "api", "test", "", "warn")
	l.Debug(context.Background(), "noise", "dropped")
	l.Info(context.Background(), "noise", "dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected debug/info to be filtered, got %q", buf.String())
	}
}
