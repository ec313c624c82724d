package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func parseLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to parse log line %q: %v", line, err)
	}
	return entry
}

func TestJSONLogger_BasicOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	logger.Info("applied deltas", TxID(7), Count(3))

	entry := parseLine(t, buf.String())
	if entry["level"] != "INFO" {
		t.Errorf("Expected level INFO, got %v", entry["level"])
	}
	if entry["msg"] != "applied deltas" {
		t.Errorf("Expected message 'applied deltas', got %v", entry["msg"])
	}
	fields := entry["fields"].(map[string]any)
	if fields["tx_id"] != float64(7) {
		t.Errorf("Expected tx_id 7, got %v", fields["tx_id"])
	}
	if fields["count"] != float64(3) {
		t.Errorf("Expected count 3, got %v", fields["count"])
	}
}

func TestJSONLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}
	if parseLine(t, lines[0])["level"] != "WARN" {
		t.Errorf("Expected first line WARN, got %v", lines[0])
	}
	if parseLine(t, lines[1])["level"] != "ERROR" {
		t.Errorf("Expected second line ERROR, got %v", lines[1])
	}
}

func TestJSONLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	child := logger.With(Service("updates"), WorkerID(2))
	child.Info("staged delta", ElementID(42))

	entry := parseLine(t, buf.String())
	fields := entry["fields"].(map[string]any)
	if fields["service"] != "updates" {
		t.Errorf("Expected service 'updates', got %v", fields["service"])
	}
	if fields["worker_id"] != float64(2) {
		t.Errorf("Expected worker_id 2, got %v", fields["worker_id"])
	}
	if fields["element_id"] != float64(42) {
		t.Errorf("Expected element_id 42, got %v", fields["element_id"])
	}
}

func TestErrorField(t *testing.T) {
	if f := Error(errors.New("boom")); f.Value != "boom" {
		t.Errorf("Expected 'boom', got %v", f.Value)
	}
	if f := Error(nil); f.Value != nil {
		t.Errorf("Expected nil, got %v", f.Value)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("discarded")
	logger.With(Component("wal")).Error("also discarded")
}
