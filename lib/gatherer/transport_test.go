// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/shm"
	"github.com/bureau-foundation/sysmon/lib/testutil"
	"github.com/bureau-foundation/sysmon/lib/wire"
)

func dialWorker(t *testing.T, path string, pid uint32) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Errorf("dial: %v", err)
		return nil
	}
	hello := make([]byte, 4)
	binary.LittleEndian.PutUint32(hello, pid)
	if err := wire.WriteFrame(conn, wire.Frame{Kind: uint8(ipc.MessageAcknowledge), Payload: hello}, wire.CompressionNone); err != nil {
		t.Errorf("hello: %v", err)
	}
	return conn
}

func TestSocketTransportExchange(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "gatherer.sock")
	transport, err := NewSocketTransport(path, wire.CompressionZstd)
	if err != nil {
		t.Fatalf("NewSocketTransport: %v", err)
	}
	defer transport.Close()

	if args := transport.WorkerArgs(); len(args) != 4 || args[1] != path || args[3] != "zstd" {
		t.Errorf("WorkerArgs = %q", args)
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		conn := dialWorker(t, path, 31337)
		if conn == nil {
			return
		}
		defer conn.Close()

		frame, err := wire.ReadFrame(conn)
		if err != nil {
			t.Errorf("worker read: %v", err)
			return
		}
		request, err := wire.ParseRequest(frame)
		if err != nil || request.Message != ipc.MessageGetProcesses {
			t.Errorf("worker parsed %+v, %v", request, err)
			return
		}
		// A stale reply from an abandoned request comes first.
		stale, _ := wire.ReplyFrame(frame.Sequence-1, ipc.CPUDynamicInfo{})
		wire.WriteFrame(conn, stale, wire.CompressionZstd)
		reply, err := wire.ReplyFrame(frame.Sequence, ipc.ProcessChunk{Processes: processes(1, 64)})
		if err != nil {
			t.Errorf("ReplyFrame: %v", err)
			return
		}
		if err := wire.WriteFrame(conn, reply, wire.CompressionZstd); err != nil {
			t.Errorf("worker write: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pid, err := transport.Accept(ctx, nil)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if pid != 31337 {
		t.Errorf("worker pid = %d, want 31337", pid)
	}

	tag, payload, err := transport.Exchange(ipc.Request{Message: ipc.MessageGetProcesses}, 5*time.Second)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	content, err := wire.DecodeContent(tag, payload)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	if chunk := content.(ipc.ProcessChunk); len(chunk.Processes) != 64 {
		t.Errorf("received %d processes", len(chunk.Processes))
	}
	testutil.RequireClosed(t, workerDone, 5*time.Second, "fake worker")

	// The worker hung up: the next exchange reports a disconnect.
	if _, _, err := transport.Exchange(ipc.Request{Message: ipc.MessageGetApps}, time.Second); !errors.Is(err, ErrWorkerDisconnected) {
		t.Errorf("Exchange after hangup = %v, want ErrWorkerDisconnected", err)
	}
}

func TestSocketTransportTimeout(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "gatherer.sock")
	transport, err := NewSocketTransport(path, wire.CompressionNone)
	if err != nil {
		t.Fatalf("NewSocketTransport: %v", err)
	}
	defer transport.Close()

	connected := make(chan net.Conn, 1)
	go func() { connected <- dialWorker(t, path, 1) }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := transport.Accept(ctx, nil); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	conn := testutil.RequireReceive(t, connected, 5*time.Second, "worker dial")
	if conn != nil {
		defer conn.Close()
	}

	if _, _, err := transport.Exchange(ipc.Request{Message: ipc.MessageGetApps}, 30*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("Exchange with a silent worker = %v, want ErrTimeout", err)
	}
}

func TestSocketTransportAcceptNoticesExit(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "gatherer.sock")
	transport, err := NewSocketTransport(path, wire.CompressionNone)
	if err != nil {
		t.Fatalf("NewSocketTransport: %v", err)
	}
	defer transport.Close()

	exited := make(chan struct{})
	close(exited)
	if _, err := transport.Accept(context.Background(), exited); err == nil {
		t.Error("Accept should fail once the worker has exited")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := transport.Accept(ctx, nil); !errors.Is(err, ErrTimeout) {
		t.Errorf("Accept past the deadline = %v, want ErrTimeout", err)
	}
}

func TestSharedMemoryTransport(t *testing.T) {
	link := filepath.Join(t.TempDir(), "sysmon", "gatherer")
	transport, err := NewSharedMemoryTransport(context.Background(), link, t.TempDir(), false)
	if err != nil {
		t.Fatalf("NewSharedMemoryTransport: %v", err)
	}
	defer transport.Close()

	if _, err := NewSharedMemoryTransport(context.Background(), link, t.TempDir(), false); err == nil {
		t.Error("second supervisor on a live channel should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	worker, err := shm.CreateOrOpen(ctx, link, false)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer worker.Close()

	transport.Reset()
	workerDone := make(chan error, 1)
	go func() {
		worker.Announce(777)
		sequence, request, err := worker.AwaitRequest(worker.RequestSequence(), 5*time.Second)
		if err != nil {
			workerDone <- err
			return
		}
		payload, err := wire.EncodeContent(ipc.Acknowledgement{OK: request.Argument == 9})
		if err != nil {
			workerDone <- err
			return
		}
		workerDone <- worker.Reply(sequence, ipc.ContentAcknowledgement, payload)
	}()

	pid, err := transport.Accept(ctx, nil)
	if err != nil || pid != 777 {
		t.Fatalf("Accept = (%d, %v), want 777", pid, err)
	}
	tag, payload, err := transport.Exchange(ipc.Request{Message: ipc.MessageKillProcess, Argument: 9}, 5*time.Second)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	content, err := wire.DecodeContent(tag, payload)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	if ack := content.(ipc.Acknowledgement); !ack.OK {
		t.Errorf("acknowledgement = %+v", ack)
	}
	if err := testutil.RequireReceive(t, workerDone, 5*time.Second, "worker reply"); err != nil {
		t.Fatalf("worker: %v", err)
	}

	if _, _, err := transport.Exchange(ipc.Request{Message: ipc.MessageGetApps}, 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("unanswered Exchange = %v, want ErrTimeout", err)
	}
}
