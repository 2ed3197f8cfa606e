// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/wire"
)

// acceptSlice bounds each listener wait so Accept notices a dead worker
// or an expired context promptly.
const acceptSlice = 100 * time.Millisecond

// SocketTransport listens on a unix socket the worker dials.
type SocketTransport struct {
	path        string
	compression wire.Compression
	listener    *net.UnixListener
	conn        *net.UnixConn
	sequence    uint32
}

// NewSocketTransport listens at path, replacing a stale socket file left
// by an earlier run. compression is forwarded to the worker, which
// compresses large replies with it.
func NewSocketTransport(path string, compression wire.Compression) (*SocketTransport, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return &SocketTransport{path: path, compression: compression, listener: listener}, nil
}

// Path returns the socket path.
func (t *SocketTransport) Path() string { return t.path }

// WorkerArgs points the worker at the socket.
func (t *SocketTransport) WorkerArgs() []string {
	return []string{"--socket", t.path, "--compression", t.compression.String()}
}

// Reset drops the connection to the previous worker.
func (t *SocketTransport) Reset() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// Accept takes the worker's connection and reads its hello frame, which
// carries the worker's pid.
func (t *SocketTransport) Accept(ctx context.Context, exited <-chan struct{}) (int, error) {
	for {
		select {
		case <-exited:
			return 0, fmt.Errorf("worker exited before connecting to %s", t.path)
		default:
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: waiting for worker on %s: %w", ErrTimeout, t.path, err)
		}
		t.listener.SetDeadline(time.Now().Add(acceptSlice))
		conn, err := t.listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return 0, fmt.Errorf("accepting worker on %s: %w", t.path, err)
		}

		if deadline, ok := ctx.Deadline(); ok {
			conn.SetReadDeadline(deadline)
		}
		hello, err := wire.ReadFrame(conn)
		conn.SetReadDeadline(time.Time{})
		if err != nil {
			conn.Close()
			return 0, fmt.Errorf("reading worker hello: %w", classifySocketError(err))
		}
		if ipc.Message(hello.Kind) != ipc.MessageAcknowledge || len(hello.Payload) != 4 {
			conn.Close()
			return 0, fmt.Errorf("%w: worker hello has kind %d and %d payload bytes", ErrProtocol, hello.Kind, len(hello.Payload))
		}
		t.conn = conn
		t.sequence = hello.Sequence
		return int(binary.LittleEndian.Uint32(hello.Payload)), nil
	}
}

// Exchange writes one request frame and reads frames until the one
// echoing its sequence arrives or the deadline passes.
func (t *SocketTransport) Exchange(request ipc.Request, timeout time.Duration) (ipc.ContentTag, []byte, error) {
	if t.conn == nil {
		return ipc.ContentNone, nil, fmt.Errorf("%w: no worker connected", ErrWorkerDisconnected)
	}
	t.sequence++
	sequence := t.sequence
	if err := t.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return ipc.ContentNone, nil, classifySocketError(err)
	}
	if err := wire.WriteFrame(t.conn, wire.RequestFrame(sequence, request), wire.CompressionNone); err != nil {
		return ipc.ContentNone, nil, fmt.Errorf("sending %s: %w", request.Message, classifySocketError(err))
	}
	for {
		frame, err := wire.ReadFrame(t.conn)
		if err != nil {
			return ipc.ContentNone, nil, fmt.Errorf("awaiting reply to %s: %w", request.Message, classifySocketError(err))
		}
		if frame.Sequence != sequence {
			continue
		}
		return ipc.ContentTag(frame.Kind), frame.Payload, nil
	}
}

// Close stops listening, drops any worker connection, and removes the
// socket file.
func (t *SocketTransport) Close() error {
	t.Reset()
	err := t.listener.Close()
	os.Remove(t.path)
	return err
}

// classifySocketError maps socket failures onto the transport error
// kinds the Handle reacts to.
func classifySocketError(err error) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %w", ErrWorkerDisconnected, err)
	case errors.Is(err, wire.ErrFrameTooLarge):
		// The unread body leaves the stream misaligned.
		return fmt.Errorf("%w: %w: %w", ErrWorkerDisconnected, ErrProtocol, err)
	case errors.Is(err, wire.ErrMalformed):
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	default:
		return err
	}
}
