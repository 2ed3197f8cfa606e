// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.state")
	state := State{
		Component:         "sysmon",
		SupervisorPID:     4100,
		SupervisorStarted: 1760000000000,
		GathererPID:       4101,
		Transport:         "shm",
		Endpoint:          "/home/user/.cache/io.example.Monitor/gatherer",
		Timestamp:         time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC),
	}

	if err := Write(path, state); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Component != state.Component || got.Transport != state.Transport || got.Endpoint != state.Endpoint {
		t.Errorf("Read = %+v, want %+v", got, state)
	}
	if got.SupervisorPID != state.SupervisorPID || got.SupervisorStarted != state.SupervisorStarted || got.GathererPID != state.GathererPID {
		t.Errorf("pids = (%d, %d, %d)", got.SupervisorPID, got.SupervisorStarted, got.GathererPID)
	}
	if !got.Timestamp.Equal(state.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, state.Timestamp)
	}
}

func TestWriteFilePermissionsAndNoTemporaryLeft(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.state")
	if err := Write(path, State{Component: "sysmon", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if permissions := info.Mode().Perm(); permissions != 0o600 {
		t.Errorf("permissions = %04o, want 0600", permissions)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("temporary file still exists after successful Write")
	}
}

func TestWriteParentDirectoryMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent", "supervisor.state")
	if err := Write(path, State{Component: "sysmon"}); err == nil {
		t.Fatal("Write to nonexistent parent directory should fail")
	}
}

func TestPrevious(t *testing.T) {
	directory := t.TempDir()

	if _, found, err := Previous(filepath.Join(directory, "missing")); found || err != nil {
		t.Errorf("Previous(missing) = (%v, %v), want (false, nil)", found, err)
	}

	corrupt := filepath.Join(directory, "corrupt")
	if err := os.WriteFile(corrupt, []byte{0xff, 0x00, 0x13}, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, found, err := Previous(corrupt); found || err == nil {
		t.Errorf("Previous(corrupt) = (%v, %v), want an error", found, err)
	}

	valid := filepath.Join(directory, "valid")
	if err := Write(valid, State{Component: "sysmon", SupervisorPID: 12}); err != nil {
		t.Fatal(err)
	}
	state, found, err := Previous(valid)
	if !found || err != nil || state.SupervisorPID != 12 {
		t.Errorf("Previous(valid) = (%+v, %v, %v)", state, found, err)
	}
}

func TestSupervisorAlive(t *testing.T) {
	current, err := Current("sysmon", "shm", "/tmp/link")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if int(current.SupervisorPID) != os.Getpid() {
		t.Errorf("SupervisorPID = %d, want %d", current.SupervisorPID, os.Getpid())
	}
	if !current.SupervisorAlive() {
		t.Error("the running test process is not reported alive")
	}

	reused := current
	reused.SupervisorStarted--
	if reused.SupervisorAlive() {
		t.Error("a pid with a different start time should not count as the same supervisor")
	}

	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	if err := cmd.Run(); err != nil {
		t.Fatalf("running short-lived process: %v", err)
	}
	exited := State{SupervisorPID: int32(cmd.Process.Pid), SupervisorStarted: current.SupervisorStarted}
	if exited.SupervisorAlive() {
		t.Error("an exited process is reported alive")
	}

	if (State{}).SupervisorAlive() {
		t.Error("zero state is reported alive")
	}
}

func TestRecordGatherer(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting child: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	defer func() {
		cmd.Process.Kill()
		<-exited
	}()

	var state State
	if err := state.RecordGatherer(cmd.Process.Pid); err != nil {
		t.Fatalf("RecordGatherer: %v", err)
	}
	if int(state.GathererPID) != cmd.Process.Pid || state.GathererStarted == 0 {
		t.Errorf("recorded (%d, %d)", state.GathererPID, state.GathererStarted)
	}
	if !state.GathererAlive() {
		t.Error("running child is not reported alive")
	}

	reused := state
	reused.GathererStarted++
	if reused.GathererAlive() {
		t.Error("a pid with a different start time should not count as the recorded gatherer")
	}

	cmd.Process.Kill()
	<-exited
	if state.GathererAlive() {
		t.Error("reaped child is reported alive")
	}
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.state")
	if err := Write(path, State{Component: "sysmon"}); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := Clear(path); err != nil {
			t.Fatalf("Clear: %v", err)
		}
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Error("state file still exists after Clear")
	}
}
