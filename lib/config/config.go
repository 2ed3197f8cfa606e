// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Transport selects how the supervisor and the gatherer exchange
// requests.
type Transport string

const (
	// SharedMemory exchanges requests through a futex-signalled shared
	// region. This is the default.
	SharedMemory Transport = "shm"
	// Socket exchanges length-prefixed frames over a unix stream socket.
	Socket Transport = "socket"
)

// FatalPolicy decides what happens when the retry budget is exhausted.
type FatalPolicy string

const (
	// FatalExit logs the failure and terminates the process.
	FatalExit FatalPolicy = "exit"
	// FatalRestart restarts the gatherer and returns a degraded error
	// to the caller.
	FatalRestart FatalPolicy = "restart"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "SYSMON_CONFIG"

// Config is the supervisor configuration.
type Config struct {
	// AppID names the cache subdirectory holding the endpoints. Inside
	// Flatpak the sandbox's own application id takes precedence when
	// this is left at its default.
	AppID string `yaml:"app_id"`

	// ChannelName is the endpoint name under the app's cache directory.
	ChannelName string `yaml:"channel_name"`

	// Transport is shm or socket.
	Transport Transport `yaml:"transport"`

	// Compression applies to socket frame bodies: none, lz4, or zstd.
	Compression string `yaml:"compression"`

	Gatherer GathererConfig `yaml:"gatherer"`

	Retry RetryConfig `yaml:"retry"`

	FatalPolicy FatalPolicy `yaml:"fatal_policy"`

	GPUTelemetry GPUTelemetryConfig `yaml:"gpu_telemetry"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`
}

// GathererConfig locates the gatherer executable.
type GathererConfig struct {
	// Path is an explicit gatherer binary. Empty means search next to
	// the running executable, then PATH.
	Path string `yaml:"path"`

	// HostDirectory is where bundled builds are copied so the host can
	// execute them when running inside Flatpak. Empty means
	// <cache>/<app-id>/bin.
	HostDirectory string `yaml:"host_directory"`
}

// RetryConfig bounds each request.
type RetryConfig struct {
	// Attempts is the number of sends before a request is fatal.
	Attempts int `yaml:"attempts"`

	// ReplyTimeout bounds the wait for one reply.
	ReplyTimeout time.Duration `yaml:"reply_timeout"`

	// ReadyTimeout bounds the wait for a freshly spawned gatherer to
	// attach.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// GPUTelemetryConfig controls the continuously published GPU board.
type GPUTelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultAppID is the application id used outside Flatpak.
const DefaultAppID = "io.sysmon.Sysmon"

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		AppID:       DefaultAppID,
		ChannelName: "gatherer",
		Transport:   SharedMemory,
		Compression: "none",
		Retry: RetryConfig{
			Attempts:     3,
			ReplyTimeout: 500 * time.Millisecond,
			ReadyTimeout: 5 * time.Second,
		},
		FatalPolicy: FatalExit,
		GPUTelemetry: GPUTelemetryConfig{
			Enabled:  false,
			Interval: time.Second,
		},
		LogLevel: "info",
	}
}

// Load loads the file named by SYSMON_CONFIG, or returns defaults when
// the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults. Files
// ending in .json or .jsonc may carry comments and trailing commas;
// anything else is YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// Plain JSON is valid YAML, so one decoder handles both and
		// durations parse the same way in either format.
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":           os.Getenv("HOME"),
		"XDG_CACHE_HOME": os.Getenv("XDG_CACHE_HOME"),
	}
	c.Gatherer.Path = expandVars(c.Gatherer.Path, vars)
	c.Gatherer.HostDirectory = expandVars(c.Gatherer.HostDirectory, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.AppID == "" {
		errs = append(errs, fmt.Errorf("app_id is required"))
	}
	if c.ChannelName == "" {
		errs = append(errs, fmt.Errorf("channel_name is required"))
	} else if strings.ContainsRune(c.ChannelName, filepath.Separator) {
		errs = append(errs, fmt.Errorf("channel_name %q must not contain a path separator", c.ChannelName))
	}

	if c.Transport != SharedMemory && c.Transport != Socket {
		errs = append(errs, fmt.Errorf("transport must be one of: %v", []Transport{SharedMemory, Socket}))
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !contains(compressions, c.Compression) {
		errs = append(errs, fmt.Errorf("compression must be one of: %v", compressions))
	}

	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Retry.ReplyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("retry.reply_timeout must be positive"))
	}
	if c.Retry.ReadyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("retry.ready_timeout must be positive"))
	}

	if c.FatalPolicy != FatalExit && c.FatalPolicy != FatalRestart {
		errs = append(errs, fmt.Errorf("fatal_policy must be one of: %v", []FatalPolicy{FatalExit, FatalRestart}))
	}

	if c.GPUTelemetry.Enabled && c.GPUTelemetry.Interval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("gpu_telemetry.interval must be at least 100ms, got %s", c.GPUTelemetry.Interval))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !contains(levels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", levels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
