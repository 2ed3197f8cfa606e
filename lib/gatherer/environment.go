// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/bureau-foundation/sysmon/lib/shm"
	"github.com/bureau-foundation/sysmon/sandbox"
)

// Binary names of the gatherer builds.
const (
	BinaryName     = "sysmon-gatherer"
	MuslBinaryName = "sysmon-gatherer-musl"
)

// Environment is the explicit description of where the supervisor runs.
// DetectEnvironment fills it from the real process; tests build one by
// hand.
type Environment struct {
	// AppID names the per-application cache subdirectory that holds
	// rendezvous links and sockets.
	AppID string

	// Flatpak is non-nil when running inside a Flatpak sandbox, in
	// which case the gatherer is spawned on the host.
	Flatpak *sandbox.Flatpak

	// CacheDirectory is $XDG_CACHE_HOME, or $HOME/.cache.
	CacheDirectory string

	// ExecutableDirectory is the directory of the running binary,
	// searched first for gatherer builds.
	ExecutableDirectory string

	// LookPath resolves binaries on PATH. Nil means exec.LookPath.
	LookPath func(name string) (string, error)
}

// DetectEnvironment describes the current process.
func DetectEnvironment(appID string) (*Environment, error) {
	flatpak, err := sandbox.DetectFlatpak("/")
	if err != nil {
		return nil, err
	}
	if flatpak != nil && flatpak.AppID != "" && appID == "" {
		appID = flatpak.AppID
	}
	if appID == "" {
		return nil, fmt.Errorf("application id is required")
	}

	cache := os.Getenv("XDG_CACHE_HOME")
	if cache == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating cache directory: %w", err)
		}
		cache = filepath.Join(home, ".cache")
	}

	environment := &Environment{
		AppID:          appID,
		Flatpak:        flatpak,
		CacheDirectory: cache,
		LookPath:       exec.LookPath,
	}
	if executable, err := os.Executable(); err == nil {
		environment.ExecutableDirectory = filepath.Dir(executable)
	}
	return environment, nil
}

// InFlatpak reports whether the gatherer has to cross a Flatpak
// boundary.
func (e *Environment) InFlatpak() bool { return e.Flatpak != nil }

// EndpointDirectory holds every rendezvous file for this application.
func (e *Environment) EndpointDirectory() string {
	return filepath.Join(e.CacheDirectory, e.AppID)
}

// EndpointPath is the rendezvous path for a named channel: the symlink
// for shared memory, or the socket path with ".sock" appended.
func (e *Environment) EndpointPath(channel string) string {
	return filepath.Join(e.EndpointDirectory(), channel)
}

// BackingDirectory is where shared memory backing files are created.
// A Flatpak sandbox gets a private /dev/shm, so inside one the backing
// files live next to the links in the cache directory, which the host
// sees at the same path.
func (e *Environment) BackingDirectory() string {
	if e.InFlatpak() {
		return filepath.Join(e.EndpointDirectory(), "shm")
	}
	return shm.DefaultBackingDirectory
}

// HostBinaryDirectory is where bundled gatherer builds are copied for
// host execution.
func (e *Environment) HostBinaryDirectory() string {
	return filepath.Join(e.EndpointDirectory(), "bin")
}

// FindBinary looks for a binary by name next to the running executable,
// then on PATH. It returns an empty string when neither has it.
func (e *Environment) FindBinary(name string) string {
	if e.ExecutableDirectory != "" {
		candidate := filepath.Join(e.ExecutableDirectory, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	lookPath := e.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if path, err := lookPath(name); err == nil {
		return path
	}
	return ""
}

// ResolveCommand returns the command prefix that starts a gatherer:
// transport arguments are appended by the Handle. An explicit path
// wins over discovery. Inside Flatpak the chosen build is copied to the
// host binary directory (or hostDirectory when set), the libc variant
// is probed on the host, and the result is wrapped with flatpak-spawn.
func (e *Environment) ResolveCommand(ctx context.Context, explicit, hostDirectory string, run sandbox.Runner, logger *slog.Logger) ([]string, error) {
	glibc := explicit
	if glibc == "" {
		glibc = e.FindBinary(BinaryName)
	}
	if err := validateBinary(glibc, BinaryName); err != nil {
		return nil, err
	}
	if !e.InFlatpak() {
		logger.Info("using gatherer", "path", glibc)
		return []string{glibc}, nil
	}

	if hostDirectory == "" {
		hostDirectory = e.HostBinaryDirectory()
	}
	installedGlibc, err := sandbox.InstallHostBinary(glibc, hostDirectory, logger)
	if err != nil {
		return nil, err
	}
	chosen := installedGlibc
	if musl := filepath.Join(filepath.Dir(glibc), MuslBinaryName); fileExists(musl) {
		installedMusl, err := sandbox.InstallHostBinary(musl, hostDirectory, logger)
		if err != nil {
			return nil, err
		}
		if run == nil {
			run = sandbox.ExecRunner
		}
		chosen = sandbox.ProbeVariant(ctx, run, func(argv []string) []string {
			return sandbox.HostCommand(argv, false)
		}, installedGlibc, installedMusl, logger)
	}
	logger.Info("using host gatherer through flatpak-spawn", "path", chosen)
	return sandbox.HostCommand([]string{chosen}, true), nil
}

// validateBinary checks that a binary path points to a regular,
// executable file.
func validateBinary(path, name string) error {
	if path == "" {
		return fmt.Errorf("%s not found (checked next to this binary and PATH)", name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s at %q: %w", name, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s at %q is not a regular file (mode %s)", name, path, info.Mode())
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s at %q is not executable (mode %s)", name, path, info.Mode())
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
