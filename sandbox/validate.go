// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
)

// ValidationResult is the outcome of one pre-flight check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // True if this is a warning, not an error.
}

// Validator runs pre-flight checks before the supervisor starts a
// gatherer and collects their results for display.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{results: make([]ValidationResult, 0)}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any validation failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message})
}

func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message, Warning: true})
}

func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: false, Message: message})
	v.errors++
}

// ValidateCapabilities checks the launch environment.
func (v *Validator) ValidateCapabilities(caps *Capabilities) {
	switch {
	case caps.Flatpak == nil:
		v.pass("flatpak", "not sandboxed; gatherer runs directly")
	case caps.FlatpakSpawnPath == "":
		v.fail("flatpak", fmt.Sprintf("inside flatpak %q but %s is not available", caps.Flatpak.AppID, FlatpakSpawn))
	default:
		v.pass("flatpak", fmt.Sprintf("inside flatpak %q; gatherer spawned via %s", caps.Flatpak.AppID, caps.FlatpakSpawnPath))
	}

	if caps.SharedMemoryDirectory == "" {
		v.warn("shm", "no writable /dev/shm; backing files fall back to the cache directory")
	} else {
		v.pass("shm", fmt.Sprintf("backing files in %s", caps.SharedMemoryDirectory))
	}

	if caps.BwrapPath == "" {
		v.warn("bwrap", "bubblewrap not found (flatpak apps will not be matched by sandbox arguments)")
	} else {
		v.pass("bwrap", fmt.Sprintf("available: %s", caps.BwrapPath))
	}
}

// ValidateGathererBinary checks that path is a regular executable file.
func (v *Validator) ValidateGathererBinary(path string) {
	if path == "" {
		v.fail("gatherer", "gatherer binary not found (checked next to this binary and PATH)")
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		v.fail("gatherer", fmt.Sprintf("cannot stat %s: %v", path, err))
		return
	}
	if !info.Mode().IsRegular() {
		v.fail("gatherer", fmt.Sprintf("%s is not a regular file (mode %s)", path, info.Mode()))
		return
	}
	if info.Mode()&0o111 == 0 {
		v.fail("gatherer", fmt.Sprintf("%s is not executable (mode %s)", path, info.Mode()))
		return
	}
	v.pass("gatherer", fmt.Sprintf("executable: %s", path))
}

// ValidateEndpointDirectory checks that the rendezvous directory exists
// or can be created.
func (v *Validator) ValidateEndpointDirectory(directory string) {
	if err := os.MkdirAll(directory, 0o700); err != nil {
		v.fail("endpoint", fmt.Sprintf("cannot create %s: %v", directory, err))
		return
	}
	if !directoryWritable(directory) {
		v.fail("endpoint", fmt.Sprintf("%s is not writable", directory))
		return
	}
	v.pass("endpoint", fmt.Sprintf("writable: %s", directory))
}

// PrintResults writes validation results to a writer.
func (v *Validator) PrintResults(w io.Writer) {
	for _, r := range v.results {
		var prefix string
		if r.Passed {
			if r.Warning {
				prefix = "⚠"
			} else {
				prefix = "✓"
			}
		} else {
			prefix = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, r.Name, r.Message)
	}

	fmt.Fprintln(w)
	if v.HasErrors() {
		fmt.Fprintf(w, "Validation failed with %d error(s)\n", v.errors)
	} else {
		fmt.Fprintln(w, "Ready to start the gatherer")
	}
}
