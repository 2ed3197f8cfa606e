// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/shm"
	"github.com/bureau-foundation/sysmon/lib/wire"
)

var (
	// errIdle is returned by await when no request arrived in time.
	errIdle = errors.New("no request")

	// ErrDetached means the supervisor's endpoint went away: the
	// socket closed or the channel link was recreated.
	ErrDetached = errors.New("supervisor endpoint detached")
)

// endpoint is the worker's side of a transport. Replies always answer
// the most recent request returned by await.
type endpoint interface {
	// announce signals readiness and reports the worker's pid.
	announce(pid int) error

	// await returns the next request, errIdle after timeout, or
	// ErrDetached once the supervisor is gone.
	await(timeout time.Duration) (ipc.Request, error)

	reply(tag ipc.ContentTag, payload []byte) error

	// capacity is the largest payload reply accepts.
	capacity() int

	close() error
}

// sharedMemoryEndpoint attaches to a channel the supervisor owns.
type sharedMemoryEndpoint struct {
	channel  *shm.Channel
	sequence uint32
}

// attachSharedMemory attaches to the channel behind linkPath, waiting
// for the owner to mark it ready until ctx ends. Finding no channel is
// an error: the worker never creates one.
func attachSharedMemory(ctx context.Context, linkPath string) (*sharedMemoryEndpoint, error) {
	channel, err := shm.CreateOrOpen(ctx, linkPath, false)
	if err != nil {
		return nil, fmt.Errorf("attaching to %s: %w", linkPath, err)
	}
	if channel.IsOwner() {
		channel.Remove()
		return nil, fmt.Errorf("no supervisor channel at %s", linkPath)
	}
	return &sharedMemoryEndpoint{channel: channel, sequence: channel.RequestSequence()}, nil
}

func (e *sharedMemoryEndpoint) announce(pid int) error {
	e.channel.Announce(pid)
	return nil
}

func (e *sharedMemoryEndpoint) await(timeout time.Duration) (ipc.Request, error) {
	sequence, request, err := e.channel.AwaitRequest(e.sequence, timeout)
	if errors.Is(err, shm.ErrTimeout) {
		if !e.channel.LinkAlive() {
			return ipc.Request{}, fmt.Errorf("%w: %s no longer points at this channel", ErrDetached, e.channel.LinkPath())
		}
		return ipc.Request{}, errIdle
	}
	if err != nil {
		return ipc.Request{}, err
	}
	e.sequence = sequence
	return request, nil
}

func (e *sharedMemoryEndpoint) reply(tag ipc.ContentTag, payload []byte) error {
	return e.channel.Reply(e.sequence, tag, payload)
}

func (e *sharedMemoryEndpoint) capacity() int { return shm.PayloadCapacity }

func (e *sharedMemoryEndpoint) close() error { return e.channel.Close() }

// socketEndpoint dials the supervisor's listener. A reader goroutine
// turns the stream into frames so that an idle timeout never abandons
// a half-read frame.
type socketEndpoint struct {
	conn        net.Conn
	compression wire.Compression
	frames      chan wire.Frame
	readErr     error
	sequence    uint32
}

func dialSocket(ctx context.Context, path string, compression wire.Compression) (*socketEndpoint, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", path, err)
	}
	e := &socketEndpoint{
		conn:        conn,
		compression: compression,
		frames:      make(chan wire.Frame),
	}
	go e.read()
	return e, nil
}

func (e *socketEndpoint) read() {
	for {
		frame, err := wire.ReadFrame(e.conn)
		if err != nil {
			e.readErr = err
			close(e.frames)
			return
		}
		e.frames <- frame
	}
}

func (e *socketEndpoint) announce(pid int) error {
	hello := make([]byte, 4)
	binary.LittleEndian.PutUint32(hello, uint32(pid))
	frame := wire.Frame{Kind: uint8(ipc.MessageAcknowledge), Payload: hello}
	if err := wire.WriteFrame(e.conn, frame, wire.CompressionNone); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	return nil
}

func (e *socketEndpoint) await(timeout time.Duration) (ipc.Request, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame, ok := <-e.frames:
		if !ok {
			return ipc.Request{}, fmt.Errorf("%w: %w", ErrDetached, e.readErr)
		}
		request, err := wire.ParseRequest(frame)
		if err != nil {
			return ipc.Request{}, err
		}
		e.sequence = frame.Sequence
		return request, nil
	case <-timer.C:
		return ipc.Request{}, errIdle
	}
}

func (e *socketEndpoint) reply(tag ipc.ContentTag, payload []byte) error {
	frame := wire.Frame{Kind: uint8(tag), Sequence: e.sequence, Payload: payload}
	if err := wire.WriteFrame(e.conn, frame, e.compression); err != nil {
		if errors.Is(err, wire.ErrFrameTooLarge) {
			return fmt.Errorf("%w: %w", shm.ErrPayloadTooLarge, err)
		}
		return fmt.Errorf("%w: writing %s reply: %w", ErrDetached, tag, err)
	}
	return nil
}

func (e *socketEndpoint) capacity() int { return wire.MaxFrameLength }

func (e *socketEndpoint) close() error { return e.conn.Close() }
