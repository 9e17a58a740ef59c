package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriter_ProductionJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "production")

	log.Info().Msg("hidden")
	log.Warn().Str("course_id", "c-1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line at warn level, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected json line: %v", err)
	}
	if entry["course_id"] != "c-1" || entry["service"] != "courseflow" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewWithWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "loud", "development")

	log.Debug().Msg("debug")
	log.Info().Msg("info")

	out := buf.String()
	if strings.Contains(out, "debug") {
		t.Fatalf("expected debug to be filtered, got %q", out)
	}
	if !strings.Contains(out, "info") {
		t.Fatalf("expected info line, got %q", out)
	}
}
