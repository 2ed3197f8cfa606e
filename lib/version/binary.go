// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bureau-foundation/sysmon/lib/binhash"
)

// Binary identifies an executable by path and content.
type Binary struct {
	Path   string
	Digest binhash.Digest
}

// Self describes the running binary. os.Executable resolves
// /proc/self/exe on Linux, so the digest is of the file that was
// started even if it has since been replaced on disk.
func Self() (Binary, error) {
	executable, err := os.Executable()
	if err != nil {
		return Binary{}, fmt.Errorf("resolving own executable path: %w", err)
	}
	return Describe(executable)
}

// Describe hashes the binary at path.
func Describe(path string) (Binary, error) {
	digest, err := binhash.HashFile(path)
	if err != nil {
		return Binary{}, err
	}
	return Binary{Path: path, Digest: digest}, nil
}

// Drift compares a bundled gatherer build against the copy installed
// for host execution inside Flatpak.
type Drift struct {
	Bundled Binary

	// Installed is the zero Binary when Missing is set.
	Installed Binary
	Missing   bool
}

// Stale reports whether the installed copy needs replacing before the
// next spawn.
func (d Drift) Stale() bool {
	return d.Missing || d.Bundled.Digest != d.Installed.Digest
}

// CompareInstalled hashes the bundled build and its installed copy. A
// missing installed copy is reported through Drift.Missing; a missing
// bundled build is an error.
func CompareInstalled(bundledPath, installedPath string) (Drift, error) {
	bundled, err := Describe(bundledPath)
	if err != nil {
		return Drift{}, fmt.Errorf("hashing bundled gatherer: %w", err)
	}
	installed, err := Describe(installedPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Drift{Bundled: bundled, Missing: true}, nil
	}
	if err != nil {
		return Drift{}, fmt.Errorf("hashing installed gatherer: %w", err)
	}
	return Drift{Bundled: bundled, Installed: installed}, nil
}
