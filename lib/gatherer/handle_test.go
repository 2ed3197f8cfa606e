// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

func TestNewRequiresCollaborators(t *testing.T) {
	transport := &fakeTransport{}
	launcher := &fakeLauncher{}
	for name, config := range map[string]Config{
		"command":   {Transport: transport, Launcher: launcher},
		"transport": {Command: []string{"g"}, Launcher: launcher},
		"launcher":  {Command: []string{"g"}, Transport: transport},
	} {
		if _, err := New(config); err == nil {
			t.Errorf("New without %s should fail", name)
		}
	}
}

func TestStartAppendsTransportArguments(t *testing.T) {
	transport := &fakeTransport{}
	launcher := &fakeLauncher{}
	handle, err := New(Config{
		Command:   []string{"flatpak-spawn", "--host", "/cache/bin/sysmon-gatherer"},
		ExtraArgs: []string{"--board", "/cache/gpu"},
		Transport: transport,
		Launcher:  launcher,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := handle.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []string{"flatpak-spawn", "--host", "/cache/bin/sysmon-gatherer", "--link", "/fake/link", "--board", "/cache/gpu"}
	if !slices.Equal(launcher.launches[0], want) {
		t.Errorf("argv = %q, want %q", launcher.launches[0], want)
	}
	if handle.WorkerPID() != 4242 || handle.PID() != 1001 {
		t.Errorf("pids = (%d, %d), want (1001, 4242)", handle.PID(), handle.WorkerPID())
	}
	if err := handle.Start(context.Background()); err == nil {
		t.Error("second Start should fail while a worker runs")
	}
}

func TestStartKillsWorkerThatNeverAttaches(t *testing.T) {
	transport := &fakeTransport{acceptErr: errors.New("never attached")}
	launcher := &fakeLauncher{}
	handle, err := New(Config{
		Command:      []string{"g"},
		Transport:    transport,
		Launcher:     launcher,
		ReadyTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := handle.Start(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Start = %v, want ErrTimeout", err)
	}
	select {
	case <-launcher.current().Done():
	default:
		t.Error("unready worker was not killed")
	}
	if !errors.Is(handle.IsRunning(), ErrNotStarted) {
		t.Errorf("IsRunning after failed start = %v", handle.IsRunning())
	}
}

func TestExecuteSingleReply(t *testing.T) {
	info := ipc.CPUStaticInfo{Name: "Ryzen 9", LogicalCPUs: 32}
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply { return fakeReply{content: info} }}
	handle, launcher := newTestHandle(t, transport)

	var got ipc.CPUStaticInfo
	calls := 0
	err := handle.Execute(context.Background(), ipc.MessageGetCPUStaticInfo, 0, func(reply ipc.Reply, restarted bool) bool {
		calls++
		if restarted {
			t.Error("first reply flagged restarted")
		}
		value, ok := reply.Content.(ipc.CPUStaticInfo)
		if !ok {
			return false
		}
		got = value
		return true
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 1 || got.Name != "Ryzen 9" || got.LogicalCPUs != 32 {
		t.Errorf("calls = %d, got %+v", calls, got)
	}
	if len(launcher.launches) != 1 {
		t.Errorf("%d launches, want 1", len(launcher.launches))
	}
	if !transport.requests[0].StreamReset() {
		t.Error("first request of a call should carry the stream reset flag")
	}
}

func TestExecuteRetryBudgetWithOneRespawn(t *testing.T) {
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply { return timeoutReply() }}
	handle, launcher := newTestHandle(t, transport)

	calls := 0
	err := handle.Execute(context.Background(), ipc.MessageGetProcesses, 0, func(ipc.Reply, bool) bool {
		calls++
		return true
	})

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Execute = %v, want *FatalError", err)
	}
	if !errors.Is(err, ErrFatal) || !errors.Is(err, ErrTimeout) {
		t.Errorf("fatal error does not wrap ErrFatal and ErrTimeout: %v", err)
	}
	if len(fatal.Errors) != DefaultAttempts {
		t.Errorf("fatal error lists %d attempts, want %d", len(fatal.Errors), DefaultAttempts)
	}
	if requests := transport.dataRequests(); len(requests) != DefaultAttempts {
		t.Errorf("%d requests sent, want %d", len(requests), DefaultAttempts)
	}
	if handle.Restarts() != 1 {
		t.Errorf("%d respawns, want exactly 1", handle.Restarts())
	}
	if len(launcher.launches) != 2 {
		t.Errorf("%d launches, want initial plus one respawn", len(launcher.launches))
	}
	if calls != 0 {
		t.Errorf("onReply called %d times without any reply", calls)
	}

	// The respawn happens between the second and third attempts.
	first := launcher.processes[0]
	select {
	case <-first.Done():
	default:
		t.Error("unresponsive worker was not killed")
	}
}

func TestExecuteAccumulatesChunks(t *testing.T) {
	chunks := []ipc.ProcessChunk{
		{Processes: processes(1, 64)},
		{Processes: processes(65, 12), IsComplete: true},
	}
	next := 0
	transport := &fakeTransport{respond: func(request ipc.Request) fakeReply {
		if request.StreamReset() {
			next = 0
		}
		chunk := chunks[next]
		next++
		return fakeReply{content: chunk}
	}}
	handle, _ := newTestHandle(t, transport)

	var accumulated []ipc.Process
	err := handle.Execute(context.Background(), ipc.MessageGetProcesses, 0, func(reply ipc.Reply, restarted bool) bool {
		chunk, ok := reply.Content.(ipc.ProcessChunk)
		if !ok {
			return false
		}
		if restarted {
			accumulated = accumulated[:0]
		}
		accumulated = append(accumulated, chunk.Processes...)
		return chunk.IsComplete
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(accumulated) != 76 {
		t.Fatalf("accumulated %d processes, want 76", len(accumulated))
	}
	for index, process := range accumulated {
		if process.PID != uint32(index+1) {
			t.Fatalf("process %d has pid %d, want %d", index, process.PID, index+1)
		}
	}
	if len(transport.requests) != 2 || transport.requests[1].StreamReset() {
		t.Errorf("continuation request should not reset the stream: %+v", transport.requests)
	}
}

func TestExecuteRestartsStreamAfterTimeout(t *testing.T) {
	chunks := []ipc.ProcessChunk{
		{Processes: processes(1, 3)},
		{Processes: processes(4, 3)},
		{Processes: processes(7, 3), IsComplete: true},
	}
	next := 0
	timedOut := false
	transport := &fakeTransport{respond: func(request ipc.Request) fakeReply {
		if request.StreamReset() {
			next = 0
		}
		if next == 1 && !timedOut {
			timedOut = true
			return timeoutReply()
		}
		chunk := chunks[next]
		next++
		return fakeReply{content: chunk}
	}}
	handle, _ := newTestHandle(t, transport)

	var accumulated []ipc.Process
	var flags []bool
	err := handle.Execute(context.Background(), ipc.MessageGetProcesses, 0, func(reply ipc.Reply, restarted bool) bool {
		flags = append(flags, restarted)
		if restarted {
			accumulated = accumulated[:0]
		}
		chunk := reply.Content.(ipc.ProcessChunk)
		accumulated = append(accumulated, chunk.Processes...)
		return chunk.IsComplete
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(flags, []bool{false, true, false, false}) {
		t.Errorf("restarted flags = %v", flags)
	}
	if len(accumulated) != 9 {
		t.Errorf("accumulated %d processes, want 9 without duplicates", len(accumulated))
	}
	if !transport.requests[2].StreamReset() {
		t.Error("request after a timeout should reset the stream")
	}
	if handle.Restarts() != 0 {
		t.Errorf("single timeout caused %d respawns", handle.Restarts())
	}
}

func TestExecuteRejectsMismatchedContent(t *testing.T) {
	attempts := 0
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply {
		attempts++
		if attempts == 1 {
			return fakeReply{content: ipc.CPUDynamicInfo{Utilization: 12}}
		}
		return fakeReply{content: ipc.GPUListChunk{IsComplete: true}}
	}}
	handle, _ := newTestHandle(t, transport)

	var tags []ipc.ContentTag
	err := handle.Execute(context.Background(), ipc.MessageEnumerateGPUs, 0, func(reply ipc.Reply, restarted bool) bool {
		tags = append(tags, reply.Tag())
		_, ok := reply.Content.(ipc.GPUListChunk)
		return ok
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(tags, []ipc.ContentTag{ipc.ContentCPUDynamicInfo, ipc.ContentGPUList}) {
		t.Errorf("tags seen = %v", tags)
	}
	if !transport.requests[1].StreamReset() {
		t.Error("retry after a protocol error should reset the stream")
	}
}

func TestExecuteTreatsUndecodablePayloadAsProtocolError(t *testing.T) {
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply {
		return fakeReply{tag: ipc.ContentProcesses, payload: []byte{1, 2}}
	}}
	handle, _ := newTestHandle(t, transport)

	err := handle.Execute(context.Background(), ipc.MessageGetProcesses, 0, func(ipc.Reply, bool) bool { return true })
	if !errors.Is(err, ErrFatal) || !errors.Is(err, ErrProtocol) {
		t.Fatalf("Execute = %v, want fatal protocol error", err)
	}
	if handle.Restarts() != 0 {
		t.Errorf("protocol errors caused %d respawns", handle.Restarts())
	}
}

func TestExecuteRespawnsCrashedWorker(t *testing.T) {
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply {
		return fakeReply{content: ipc.CPUDynamicInfo{ProcessCount: 300}}
	}}
	handle, launcher := newTestHandle(t, transport)

	launcher.current().exit(139)
	var exit *ExitError
	if err := handle.IsRunning(); !errors.As(err, &exit) || exit.Code != 139 {
		t.Fatalf("IsRunning after crash = %v, want ExitError{139}", err)
	}

	var sawRestarted bool
	err := handle.Execute(context.Background(), ipc.MessageGetCPUDynamicInfo, 0, func(reply ipc.Reply, restarted bool) bool {
		sawRestarted = restarted
		return true
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !sawRestarted {
		t.Error("reply after a respawn should be flagged restarted")
	}
	if len(launcher.launches) != 2 || handle.Restarts() != 1 {
		t.Errorf("launches = %d, restarts = %d", len(launcher.launches), handle.Restarts())
	}
	if err := handle.IsRunning(); err != nil {
		t.Errorf("IsRunning after respawn = %v", err)
	}
	if len(transport.dataRequests()) != 1 {
		t.Errorf("request sent %d times, want once to the new worker", len(transport.dataRequests()))
	}
}

func TestExecuteRespawnsOnDisconnect(t *testing.T) {
	sent := 0
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply {
		sent++
		if sent == 1 {
			return fakeReply{err: fmt.Errorf("%w: broken pipe", ErrWorkerDisconnected)}
		}
		return fakeReply{content: ipc.GPUDynamicChunk{IsComplete: true}}
	}}
	handle, launcher := newTestHandle(t, transport)

	err := handle.Execute(context.Background(), ipc.MessageGetGPUDynamicInfo, 0, func(reply ipc.Reply, restarted bool) bool {
		return reply.Tag() == ipc.ContentGPUDynamicInfo
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if handle.Restarts() != 1 || len(launcher.launches) != 2 {
		t.Errorf("restarts = %d, launches = %d; a disconnect should respawn immediately", handle.Restarts(), len(launcher.launches))
	}
}

func TestExecuteStopsRunawayStream(t *testing.T) {
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply {
		return fakeReply{content: ipc.ProcessChunk{Processes: processes(1, 1)}}
	}}
	launcher := &fakeLauncher{}
	handle, err := New(Config{
		Command:   []string{"g"},
		Transport: transport,
		Launcher:  launcher,
		Attempts:  1,
		MaxChunks: 5,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := handle.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = handle.Execute(context.Background(), ipc.MessageGetProcesses, 0, func(ipc.Reply, bool) bool { return false })
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Execute = %v, want protocol error", err)
	}
	if len(transport.requests) != 6 {
		t.Errorf("%d requests, want MaxChunks+1", len(transport.requests))
	}
}

func TestExecuteRejectsMessagesWithoutReply(t *testing.T) {
	handle, _ := newTestHandle(t, &fakeTransport{})
	if err := handle.Execute(context.Background(), ipc.MessageDataReady, 0, func(ipc.Reply, bool) bool { return true }); err == nil {
		t.Error("Execute(DataReady) should fail")
	}
}

func TestExecuteHonoursCanceledContext(t *testing.T) {
	handle, _ := newTestHandle(t, &fakeTransport{respond: func(ipc.Request) fakeReply { return timeoutReply() }})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := handle.Execute(ctx, ipc.MessageGetApps, 0, func(ipc.Reply, bool) bool { return true })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute = %v, want context.Canceled", err)
	}
}

func TestSendDoesNotRetry(t *testing.T) {
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply { return timeoutReply() }}
	handle, launcher := newTestHandle(t, transport)

	_, err := handle.Send(context.Background(), ipc.MessageKillProcess, 812)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send = %v, want ErrTimeout", err)
	}
	if len(transport.requests) != 1 || len(launcher.launches) != 1 {
		t.Errorf("requests = %d, launches = %d; control messages must not be retried", len(transport.requests), len(launcher.launches))
	}
	if transport.requests[0].Argument != 812 {
		t.Errorf("argument = %d", transport.requests[0].Argument)
	}
}

func TestSendToStoppedWorker(t *testing.T) {
	transport := &fakeTransport{}
	handle, launcher := newTestHandle(t, transport)
	launcher.current().exit(0)

	var exit *ExitError
	if _, err := handle.Send(context.Background(), ipc.MessageTerminateProcess, 5); !errors.As(err, &exit) {
		t.Fatalf("Send to exited worker = %v, want *ExitError", err)
	}
	if len(transport.requests) != 0 {
		t.Error("Send reached the transport for an exited worker")
	}
}

func TestStopSendsExitAndReaps(t *testing.T) {
	transport := &fakeTransport{}
	handle, launcher := newTestHandle(t, transport)
	process := launcher.current()
	transport.respond = func(request ipc.Request) fakeReply {
		if request.Message == ipc.MessageExit {
			process.exit(0)
		}
		return fakeReply{content: ipc.Acknowledgement{OK: true}}
	}

	if err := handle.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(transport.requests) != 1 || transport.requests[0].Message != ipc.MessageExit {
		t.Errorf("Stop sent %+v, want a single Exit", transport.requests)
	}
	if process.ExitCode() != 0 {
		t.Errorf("worker exit code %d; Stop killed a worker that exited cleanly", process.ExitCode())
	}
	if !errors.Is(handle.IsRunning(), ErrNotStarted) {
		t.Errorf("IsRunning after Stop = %v", handle.IsRunning())
	}
	if err := handle.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStopKillsWorkerIgnoringExit(t *testing.T) {
	transport := &fakeTransport{respond: func(ipc.Request) fakeReply { return timeoutReply() }}
	handle, launcher := newTestHandle(t, transport)
	process := launcher.current()

	start := time.Now()
	if err := handle.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if process.ExitCode() != -1 {
		t.Errorf("exit code %d, want -1 from kill", process.ExitCode())
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
}
