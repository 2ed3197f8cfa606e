// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// Transport carries requests to one worker at a time and raw reply
// payloads back. The Handle decodes payloads; a transport only moves
// bytes and maps its own failures onto ErrTimeout,
// ErrWorkerDisconnected, and ErrProtocol.
type Transport interface {
	// WorkerArgs are appended to the gatherer command line so the
	// worker can find this transport.
	WorkerArgs() []string

	// Reset forgets the current worker. It is called before every
	// spawn so that Accept only observes the new worker.
	Reset()

	// Accept blocks until a newly spawned worker signals readiness,
	// returning the pid it reports. It fails early when exited is
	// closed and with ErrTimeout when ctx ends.
	Accept(ctx context.Context, exited <-chan struct{}) (int, error)

	// Exchange sends request and waits up to timeout for the reply to
	// it, returning the reply's content tag and payload. Replies to
	// earlier requests are discarded.
	Exchange(request ipc.Request, timeout time.Duration) (ipc.ContentTag, []byte, error)

	// Close releases the transport's endpoint.
	Close() error
}
