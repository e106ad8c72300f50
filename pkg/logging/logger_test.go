// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{" Info ", LevelInfo},
		{"nonsense", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevel_String(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LevelError.String() != "ERROR" {
		t.Error("Level.String mismatch")
	}
	if Level(99).String() != "UNKNOWN" {
		t.Error("out-of-range level should stringify as UNKNOWN")
	}
}

func TestLogger_WritesToStderr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Stderr: &buf})

	logger.Info("backup created", "backup_id", "20260829-101500-ab12")

	out := buf.String()
	if !strings.Contains(out, "backup created") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "20260829-101500-ab12") {
		t.Errorf("output missing attribute: %q", out)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Stderr: &buf})

	logger.Info("should be filtered")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn message should appear")
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Stderr: &buf})

	logger.Info("phase transition", "phase", "backed_up")

	if !strings.Contains(buf.String(), `"phase":"backed_up"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}

func TestLogger_ServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Service: "installer", Stderr: &buf})

	logger.Info("hello")

	if !strings.Contains(buf.String(), `"service":"installer"`) {
		t.Errorf("expected service attribute, got %q", buf.String())
	}
}

func TestLogger_FileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{LogDir: dir, Service: "test", Stderr: &buf})

	logger.Info("written to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", entries, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Error("file should contain the logged message")
	}
}

func TestLogger_QuietSuppressesStderr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Stderr: &buf})

	logger.Error("silent")

	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote to stderr: %q", buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Stderr: &buf}).With("mode", "safe-upgrade")

	logger.Info("selected")

	if !strings.Contains(buf.String(), `"mode":"safe-upgrade"`) {
		t.Errorf("With attribute missing: %q", buf.String())
	}
}

func TestLogger_Printf(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Stderr: &buf})

	logger.Printf("step %d of %d", 2, 4)

	if !strings.Contains(buf.String(), "step 2 of 4") {
		t.Errorf("Printf output missing: %q", buf.String())
	}
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger := Default()
	if err := logger.Close(); err != nil {
		t.Errorf("Close without file should be nil, got %v", err)
	}
}
