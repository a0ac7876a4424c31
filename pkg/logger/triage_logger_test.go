package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"WARNING", LevelWarn},
		{" error ", LevelError},
		{"fatal", LevelFatal},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, Service: "test"})

	ctx := ContextWithUserID(ContextWithRequestID(context.Background(), "req-1"), "user-1")
	l.WithContext(ctx).WithField("message_id", "m1").WithError(errors.New("boom")).Warn("[Wake] failed %s", "m1")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if entry.Level != "WARN" || entry.Message != "[Wake] failed m1" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.RequestID != "req-1" || entry.UserID != "user-1" || entry.Error != "boom" {
		t.Errorf("special fields not lifted: %+v", entry)
	}
	if entry.Fields["message_id"] != "m1" {
		t.Errorf("fields = %v", entry.Fields)
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("hidden")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}

	l.Error("shown")
	if !strings.Contains(buf.String(), `"shown"`) {
		t.Errorf("expected error line, got %q", buf.String())
	}
}

func TestLogger_DerivedDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Output: &buf}).WithField("a", 1)
	_ = parent.WithField("b", 2)

	if _, ok := parent.fields["b"]; ok {
		t.Error("child field leaked into parent")
	}
}
