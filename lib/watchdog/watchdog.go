// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/bureau-foundation/sysmon/lib/codec"
)

// State records one supervisor incarnation: who owns the gatherer
// endpoint and which gatherer it spawned.
type State struct {
	// Component names the writer, for diagnostics.
	Component string `cbor:"component"`

	// SupervisorPID and SupervisorStarted identify the owning process.
	// The start time (milliseconds since the epoch, as reported by the
	// kernel) distinguishes it from an unrelated process that later
	// reuses the pid.
	SupervisorPID     int32 `cbor:"supervisor_pid"`
	SupervisorStarted int64 `cbor:"supervisor_started"`

	// GathererPID is the worker's self-reported pid; zero until the
	// first worker attaches. GathererStarted guards it against reuse
	// the same way SupervisorStarted does.
	GathererPID     int32 `cbor:"gatherer_pid,omitempty"`
	GathererStarted int64 `cbor:"gatherer_started,omitempty"`

	// Transport and Endpoint describe the channel ("shm" with the link
	// path, or "socket" with the socket path).
	Transport string `cbor:"transport"`
	Endpoint  string `cbor:"endpoint"`

	// Timestamp is when the state was written.
	Timestamp time.Time `cbor:"timestamp"`
}

// Current returns a State describing the calling process.
func Current(component, transport, endpoint string) (State, error) {
	pid := int32(os.Getpid())
	started, err := startTime(pid)
	if err != nil {
		return State{}, fmt.Errorf("reading own start time: %w", err)
	}
	return State{
		Component:         component,
		SupervisorPID:     pid,
		SupervisorStarted: started,
		Transport:         transport,
		Endpoint:          endpoint,
		Timestamp:         time.Now(),
	}, nil
}

// SupervisorAlive reports whether the process that wrote state is still
// running.
func (state State) SupervisorAlive() bool {
	if state.SupervisorPID <= 0 {
		return false
	}
	started, err := startTime(state.SupervisorPID)
	return err == nil && started == state.SupervisorStarted
}

// RecordGatherer stores the worker's pid and start time.
func (state *State) RecordGatherer(pid int) error {
	started, err := startTime(int32(pid))
	if err != nil {
		return fmt.Errorf("reading gatherer start time: %w", err)
	}
	state.GathererPID = int32(pid)
	state.GathererStarted = started
	state.Timestamp = time.Now()
	return nil
}

// GathererAlive reports whether the recorded gatherer is still running.
// A dead supervisor's live gatherer is an orphan to be killed.
func (state State) GathererAlive() bool {
	if state.GathererPID <= 0 {
		return false
	}
	started, err := startTime(state.GathererPID)
	return err == nil && started == state.GathererStarted
}

func startTime(pid int32) (int64, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, err
	}
	return proc.CreateTime()
}

// Write atomically writes a state file. The file is written to a
// temporary location in the same directory, fsynced, and renamed into
// place, so readers never see a partial write. The file is created with
// mode 0600; the parent directory must already exist.
func Write(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling watchdog state: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary watchdog file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary watchdog file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary watchdog file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary watchdog file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming watchdog file into place: %w", err)
	}

	// Make the rename durable.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Read reads and parses a state file. A missing file yields an error
// wrapping fs.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing watchdog file %s: %w", path, err)
	}
	return state, nil
}

// Previous reads the state left by an earlier incarnation. It returns
// false with no error when there is none; an unreadable or corrupt file
// is reported so the caller can decide to discard it.
func Previous(path string) (State, bool, error) {
	state, err := Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

// Clear removes a state file. Removing a missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing watchdog file: %w", err)
	}
	return nil
}
