package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func newBufferedLogger(t *testing.T, level LogLevel) (*ZapLogger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log, err := NewZapLogger(Config{Level: level, Format: JSONFormat, Output: zapcore.AddSync(buf)})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return log, buf
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewZapLogger_RejectsUnknownFormat(t *testing.T) {
	if _, err := NewZapLogger(Config{Level: InfoLevel, Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	log, buf := newBufferedLogger(t, WarnLevel)
	log.Debug("dropped")
	log.Info("dropped")
	log.Warn("kept", "attempt", 2)
	log.Error("kept too")
	_ = log.Sync()

	entries := decodeEntries(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["attempt"] != float64(2) {
		t.Fatalf("expected attempt field, got %v", entries[0])
	}
}

func TestZapLogger_WithContextAddsIdentifiers(t *testing.T) {
	log, buf := newBufferedLogger(t, DebugLevel)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithOperationID(ctx, "activateJobs")
	log.WithContext(ctx).Info("request sent")
	log.WithContext(context.Background()).Info("plain")
	_ = log.Sync()

	entries := decodeEntries(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["request_id"] != "req-1" || entries[0]["operation_id"] != "activateJobs" {
		t.Fatalf("missing identifiers: %v", entries[0])
	}
	if _, ok := entries[1]["request_id"]; ok {
		t.Fatalf("unexpected request id on plain entry: %v", entries[1])
	}
}

func TestZapLogger_WithKeepsParentFields(t *testing.T) {
	log, buf := newBufferedLogger(t, InfoLevel)
	child := log.With("job_type", "payment")
	child.With("job_key", "42").Info("handled")
	_ = log.Sync()

	entries := decodeEntries(t, buf)
	if entries[0]["job_type"] != "payment" || entries[0]["job_key"] != "42" {
		t.Fatalf("unexpected fields: %v", entries[0])
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Error("ignored", "error", "boom")
	if log.With("a", 1) == nil {
		t.Fatal("expected child logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{in: "debug", want: DebugLevel},
		{in: " INFO ", want: InfoLevel},
		{in: "warning", want: WarnLevel},
		{in: "error", want: ErrorLevel},
		{in: "trace", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLogLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseLogLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLogFormat(t *testing.T) {
	if got, err := ParseLogFormat("console"); err != nil || got != TextFormat {
		t.Fatalf("console: got %q err %v", got, err)
	}
	if _, err := ParseLogFormat("yaml"); err == nil {
		t.Fatal("expected error")
	}
}
