// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/shm"
)

// SharedMemoryTransport drives a lib/shm channel the supervisor owns.
type SharedMemoryTransport struct {
	channel *shm.Channel
}

// NewSharedMemoryTransport creates (or with forceNew, recreates) the
// channel behind linkPath with backing files in backingDirectory. The
// caller must be the owner: finding a live channel already in place
// means another supervisor is using it.
func NewSharedMemoryTransport(ctx context.Context, linkPath, backingDirectory string, forceNew bool) (*SharedMemoryTransport, error) {
	channel, err := shm.CreateOrOpen(ctx, linkPath, forceNew, shm.WithBackingDirectory(backingDirectory))
	if err != nil {
		return nil, fmt.Errorf("creating gatherer channel: %w", err)
	}
	if !channel.IsOwner() {
		owner := channel.OwnerPID()
		channel.Close()
		return nil, fmt.Errorf("gatherer channel %s is owned by pid %d", linkPath, owner)
	}
	return &SharedMemoryTransport{channel: channel}, nil
}

// LinkPath returns the rendezvous link.
func (t *SharedMemoryTransport) LinkPath() string { return t.channel.LinkPath() }

// WorkerArgs points the worker at the link.
func (t *SharedMemoryTransport) WorkerArgs() []string {
	return []string{"--link", t.channel.LinkPath()}
}

// Reset clears the announced worker pid.
func (t *SharedMemoryTransport) Reset() { t.channel.ResetWorker() }

// Accept waits for the worker's pid announcement.
func (t *SharedMemoryTransport) Accept(ctx context.Context, exited <-chan struct{}) (int, error) {
	pid, err := t.channel.WaitWorker(ctx, exited)
	if errors.Is(err, shm.ErrTimeout) {
		return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return pid, err
}

// Exchange runs one request/reply handshake on the channel.
func (t *SharedMemoryTransport) Exchange(request ipc.Request, timeout time.Duration) (ipc.ContentTag, []byte, error) {
	tag, payload, err := t.channel.Exchange(request, timeout)
	switch {
	case err == nil:
		return tag, payload, nil
	case errors.Is(err, shm.ErrTimeout):
		return tag, nil, fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, shm.ErrCorrupt):
		return tag, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	default:
		return tag, nil, err
	}
}

// Close unmaps the channel and deletes its link and backing file.
func (t *SharedMemoryTransport) Close() error { return t.channel.Remove() }
