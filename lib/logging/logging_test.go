// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.name)
		if err != nil || got != test.want {
			t.Errorf("ParseLevel(%q) = (%v, %v), want %v", test.name, got, err, test.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
}

func TestPipedOutputIsJSON(t *testing.T) {
	var output bytes.Buffer
	newLogger(&output, false, slog.LevelInfo).Info("gatherer started", "pid", 812)

	var record map[string]any
	if err := json.Unmarshal(output.Bytes(), &record); err != nil {
		t.Fatalf("piped log line is not JSON: %v\n%s", err, output.String())
	}
	if record["msg"] != "gatherer started" || record["pid"] != float64(812) {
		t.Errorf("record = %v", record)
	}
}

func TestTerminalOutputIsText(t *testing.T) {
	var output bytes.Buffer
	logger := newLogger(&output, true, slog.LevelWarn)
	logger.Info("suppressed")
	logger.Warn("restarting gatherer", "reason", "crash")

	line := output.String()
	if strings.Contains(line, "suppressed") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(line, `msg="restarting gatherer" reason=crash`) {
		t.Errorf("text output = %q", line)
	}
}
