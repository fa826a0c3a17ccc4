package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("training started", "epochs", 25, "dataset", "signs")

	out := buf.String()
	if !strings.Contains(out, "INFO") {
		t.Errorf("output missing level: %q", out)
	}
	if !strings.Contains(out, "training started") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "epochs=25") || !strings.Contains(out, "dataset=signs") {
		t.Errorf("output missing attrs: %q", out)
	}
}

func TestConsoleLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("suppressed")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestConsoleWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.With("run", "abc").WithGroup("splits").Info("assembled", "train", 16)

	out := buf.String()
	if !strings.Contains(out, "run=abc") {
		t.Errorf("inherited attr missing: %q", out)
	}
	if !strings.Contains(out, "splits.train=16") {
		t.Errorf("grouped attr missing: %q", out)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("run complete", slog.Float64("accuracy", 0.93))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "run complete" {
		t.Errorf("msg = %v, want %q", record["msg"], "run complete")
	}
	if record["level"] != "info" {
		t.Errorf("level = %v, want info", record["level"])
	}
	if record["accuracy"] != 0.93 {
		t.Errorf("accuracy = %v, want 0.93", record["accuracy"])
	}
	if _, ok := record["ts"]; !ok {
		t.Error("ts field missing")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unsupported format")
	}
}
