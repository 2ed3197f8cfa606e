// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Transport != SharedMemory {
		t.Errorf("expected transport=shm, got %s", cfg.Transport)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("expected retry.attempts=3, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.ReplyTimeout != 500*time.Millisecond {
		t.Errorf("expected retry.reply_timeout=500ms, got %s", cfg.Retry.ReplyTimeout)
	}
	if cfg.FatalPolicy != FatalExit {
		t.Errorf("expected fatal_policy=exit, got %s", cfg.FatalPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadWithoutVariableReturnsDefaults(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ChannelName != "gatherer" {
		t.Errorf("expected channel_name=gatherer, got %s", cfg.ChannelName)
	}
}

func TestLoadWithVariable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sysmon.yaml")
	if err := os.WriteFile(configPath, []byte("transport: socket\ncompression: zstd\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Transport != Socket || cfg.Compression != "zstd" {
		t.Errorf("expected socket/zstd, got %s/%s", cfg.Transport, cfg.Compression)
	}
}

func TestLoadFileYAML(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	configPath := filepath.Join(t.TempDir(), "sysmon.yaml")

	configContent := `
app_id: org.example.Monitor
channel_name: telemetry
transport: socket
compression: lz4

gatherer:
  path: ${HOME}/bin/sysmon-gatherer
  host_directory: ${SYSMON_TEST_UNSET:-/opt/sysmon}

retry:
  attempts: 5
  reply_timeout: 750ms
  ready_timeout: 2s

fatal_policy: restart

gpu_telemetry:
  enabled: true
  interval: 250ms

log_level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.AppID != "org.example.Monitor" || cfg.ChannelName != "telemetry" {
		t.Errorf("expected org.example.Monitor/telemetry, got %s/%s", cfg.AppID, cfg.ChannelName)
	}
	if cfg.Gatherer.Path != "/home/tester/bin/sysmon-gatherer" {
		t.Errorf("expected expanded gatherer.path, got %s", cfg.Gatherer.Path)
	}
	if cfg.Gatherer.HostDirectory != "/opt/sysmon" {
		t.Errorf("expected default-expanded host_directory=/opt/sysmon, got %s", cfg.Gatherer.HostDirectory)
	}
	if cfg.Retry.Attempts != 5 || cfg.Retry.ReplyTimeout != 750*time.Millisecond || cfg.Retry.ReadyTimeout != 2*time.Second {
		t.Errorf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.FatalPolicy != FatalRestart {
		t.Errorf("expected fatal_policy=restart, got %s", cfg.FatalPolicy)
	}
	if !cfg.GPUTelemetry.Enabled || cfg.GPUTelemetry.Interval != 250*time.Millisecond {
		t.Errorf("unexpected gpu_telemetry %+v", cfg.GPUTelemetry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config does not validate: %v", err)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sysmon.jsonc")

	configContent := `{
  // Socket transport for debugging with strace.
  "transport": "socket",
  "retry": {
    "attempts": 4,
    "reply_timeout": "1s", /* generous */
  },
}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Transport != Socket {
		t.Errorf("expected transport=socket, got %s", cfg.Transport)
	}
	if cfg.Retry.Attempts != 4 || cfg.Retry.ReplyTimeout != time.Second {
		t.Errorf("unexpected retry config %+v", cfg.Retry)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Retry.ReadyTimeout != 5*time.Second {
		t.Errorf("expected default ready_timeout, got %s", cfg.Retry.ReadyTimeout)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "absent.yaml") {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/.cache",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/.cache",
		},
		{
			input:    "${SYSMON_TEST_MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "empty app id",
			modify:  func(c *Config) { c.AppID = "" },
			wantErr: "app_id",
		},
		{
			name:    "channel with separator",
			modify:  func(c *Config) { c.ChannelName = "a/b" },
			wantErr: "channel_name",
		},
		{
			name:    "unknown transport",
			modify:  func(c *Config) { c.Transport = "pipe" },
			wantErr: "transport",
		},
		{
			name:    "unknown compression",
			modify:  func(c *Config) { c.Compression = "gzip" },
			wantErr: "compression",
		},
		{
			name:    "zero attempts",
			modify:  func(c *Config) { c.Retry.Attempts = 0 },
			wantErr: "retry.attempts",
		},
		{
			name:    "unknown fatal policy",
			modify:  func(c *Config) { c.FatalPolicy = "ignore" },
			wantErr: "fatal_policy",
		},
		{
			name: "telemetry interval too short",
			modify: func(c *Config) {
				c.GPUTelemetry.Enabled = true
				c.GPUTelemetry.Interval = time.Millisecond
			},
			wantErr: "gpu_telemetry.interval",
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Transport = "pipe"
	cfg.LogLevel = "trace"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"transport", "log_level"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}
