// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Capabilities describes how a gatherer can be launched from here.
type Capabilities struct {
	// Flatpak is non-nil when running inside a Flatpak sandbox.
	Flatpak *Flatpak

	// FlatpakSpawnPath is the path to flatpak-spawn if available.
	FlatpakSpawnPath string

	// BwrapPath is the path to bubblewrap if installed. Flatpak apps
	// on the host run under bwrap, which app correlation relies on.
	BwrapPath string

	// SharedMemoryDirectory is the directory shared memory backing
	// files are created in, or empty when none is writable.
	SharedMemoryDirectory string
}

// DetectCapabilities probes the filesystem rooted at root. Pass "/"
// outside of tests.
func DetectCapabilities(root string) (*Capabilities, error) {
	caps := &Capabilities{}

	flatpak, err := DetectFlatpak(root)
	if err != nil {
		return nil, err
	}
	caps.Flatpak = flatpak

	if path, err := exec.LookPath(FlatpakSpawn); err == nil {
		caps.FlatpakSpawnPath = path
	}
	if path, err := BwrapPath(root); err == nil {
		caps.BwrapPath = path
	}
	if directory := filepath.Join(root, "dev", "shm"); directoryWritable(directory) {
		caps.SharedMemoryDirectory = directory
	}
	return caps, nil
}

// CanSpawnOnHost reports whether a host gatherer can be started: either
// not sandboxed at all, or sandboxed with flatpak-spawn available.
func (c *Capabilities) CanSpawnOnHost() bool {
	return c.Flatpak == nil || c.FlatpakSpawnPath != ""
}

// BwrapPath returns the path to the bwrap executable under root.
func BwrapPath(root string) (string, error) {
	for _, path := range []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	} {
		candidate := filepath.Join(root, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}

func directoryWritable(directory string) bool {
	info, err := os.Stat(directory)
	if err != nil || !info.IsDir() {
		return false
	}
	probe, err := os.CreateTemp(directory, ".sysmon-probe-*")
	if err != nil {
		return false
	}
	probe.Close()
	os.Remove(probe.Name())
	return true
}
