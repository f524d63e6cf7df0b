package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestInfoWritesFieldsAsJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure("debug", &buf)
	t.Cleanup(func() { Configure("info", nil) })

	Info("quota.consume", map[string]any{
		"account_id": "acct-1",
		"attempt":    2,
		"error":      errors.New("boom"),
	})

	var payload map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if payload["message"] != "quota.consume" {
		t.Fatalf("unexpected message: %v", payload["message"])
	}
	if payload["level"] != "info" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if payload["account_id"] != "acct-1" {
		t.Fatalf("unexpected account_id: %v", payload["account_id"])
	}
	if payload["error"] != "boom" {
		t.Fatalf("expected error rendered as string, got %v", payload["error"])
	}
}

func TestConfigureFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure("error", &buf)
	t.Cleanup(func() { Configure("info", nil) })

	Info("dropped", nil)
	Warn("dropped", nil)
	Error("kept", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"kept"`) {
		t.Fatalf("expected error line, got %s", lines[0])
	}
}
