package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())
	logger.SetLevel(WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("output contains filtered levels: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("output missing expected levels: %s", out)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter()).WithFields(String("session_id", "abc"))

	logger.Info("hello", Int("count", 3))

	out := buf.String()
	if !strings.Contains(out, "session_id=abc") {
		t.Errorf("output missing inherited field: %s", out)
	}
	if !strings.Contains(out, "count=3") {
		t.Errorf("output missing call-site field: %s", out)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	logger.Info("structured", String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["message"] != "structured" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v", entry["key"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestFromProtocolLevel(t *testing.T) {
	cases := []struct {
		in   protocol.LogLevel
		want Level
	}{
		{protocol.LogLevelDebug, DebugLevel},
		{protocol.LogLevelInfo, InfoLevel},
		{protocol.LogLevelNotice, InfoLevel},
		{protocol.LogLevelWarning, WarnLevel},
		{protocol.LogLevelError, ErrorLevel},
		{protocol.LogLevelEmergency, ErrorLevel},
	}

	for _, tc := range cases {
		if got := FromProtocolLevel(tc.in); got != tc.want {
			t.Errorf("FromProtocolLevel(%s) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic and must accept all levels.
	logger := Discard()
	logger.Debug("x")
	logger.Error("y", ErrorField(nil))
}
