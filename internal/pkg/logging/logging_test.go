package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"Go2FlowFeatures/internal/config"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithOutput(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("NewWithOutput failed: %v", err)
	}

	logger.Info("hidden")
	logger.WithField("sink", "csv").Warn("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one line above the level threshold, got %d", len(lines))
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if entry["msg"] != "visible" || entry["sink"] != "csv" || entry["level"] != "warning" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestNewWithOutput_Errors(t *testing.T) {
	if _, err := NewWithOutput(config.LogConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Errorf("Expected an error for an unknown level")
	}
	if _, err := NewWithOutput(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Errorf("Expected an error for an unknown format")
	}
}
