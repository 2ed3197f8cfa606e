// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// Channel layout, following the common header:
//
//	0x14  4   worker pid (futex word, 0 until a worker announces)
//	0x18  4   request sequence (futex word)
//	0x1C  4   reply-to: request sequence the content answers (futex word)
//	0x20  4   request message
//	0x24  4   request flags
//	0x28  8   request argument (int64)
//	0x30  4   content tag
//	0x34  4   payload length
//	0x38  8   reserved
//	0x40  32  BLAKE3-256 of the payload
//	0x60  32  reserved
//	0x80  PayloadCapacity bytes of payload
const (
	channelMagic = "SYSMONCH"

	offsetWorkerPID     = 0x14
	offsetRequestSeq    = 0x18
	offsetReplyTo       = 0x1C
	offsetMessage       = 0x20
	offsetFlags         = 0x24
	offsetArgument      = 0x28
	offsetContentTag    = 0x30
	offsetPayloadLength = 0x34
	offsetChecksum      = 0x40
	channelHeaderSize   = 0x80

	// PayloadCapacity is the fixed size of the payload region. The
	// largest legitimate reply (a full process chunk with long command
	// lines) is a small fraction of it.
	PayloadCapacity = 1 << 20

	channelSize = channelHeaderSize + PayloadCapacity

	// waitSlice bounds individual futex sleeps in the handshake.
	waitSlice = 100 * time.Millisecond
)

var (
	// ErrTimeout is returned when the peer does not respond within the
	// caller's deadline.
	ErrTimeout = errors.New("shared memory wait timed out")

	// ErrPayloadTooLarge is returned by Reply when the payload does not
	// fit in PayloadCapacity. Payloads are never truncated.
	ErrPayloadTooLarge = errors.New("payload exceeds shared memory capacity")

	// ErrCorrupt is returned when the content header is inconsistent
	// or the payload checksum does not match.
	ErrCorrupt = errors.New("shared memory content corrupt")
)

// Channel is the request/reply region between the supervisor (owner)
// and one worker at a time (attacher).
type Channel struct {
	segment *segment
}

// CreateOrOpen creates the channel behind linkPath or attaches to it.
//
// With no existing link the caller becomes the owner. With an existing
// link and forceNew set, the link and the backing file it points at are
// deleted first and the caller becomes the owner of a fresh, zeroed
// region; use this to recover from a previous run that exited without
// cleaning up. With an existing link and forceNew unset, the caller
// attaches and blocks until the owner marks the region ready or ctx
// ends (ErrNotReady).
func CreateOrOpen(ctx context.Context, linkPath string, forceNew bool, options ...Option) (*Channel, error) {
	seg, err := openSegment(ctx, linkPath, forceNew, channelMagic, channelSize, resolveOptions(options))
	if err != nil {
		return nil, err
	}
	return &Channel{segment: seg}, nil
}

// IsOwner reports whether this process created the region.
func (c *Channel) IsOwner() bool { return c.segment.owner }

// OwnerPID returns the pid recorded by the creating process.
func (c *Channel) OwnerPID() int { return c.segment.ownerPID() }

// LinkPath returns the rendezvous link.
func (c *Channel) LinkPath() string { return c.segment.linkPath }

// BackingPath returns the file the region is mapped from.
func (c *Channel) BackingPath() string { return c.segment.backingPath }

// Close unmaps the region. The owner's link and backing file stay in
// place; call Remove to delete them.
func (c *Channel) Close() error { return c.segment.unmap() }

// Remove unmaps the region and, for the owner, deletes the link and
// backing file.
func (c *Channel) Remove() error { return c.segment.remove() }

// ResetWorker clears the announced worker pid before a new worker is
// spawned, so that WaitWorker only observes the new announcement.
func (c *Channel) ResetWorker() {
	atomic.StoreUint32(c.segment.word(offsetWorkerPID), 0)
}

// Announce publishes the worker's pid and wakes the supervisor. It is
// the worker's readiness signal.
func (c *Channel) Announce(pid int) {
	word := c.segment.word(offsetWorkerPID)
	atomic.StoreUint32(word, uint32(pid))
	futexWakeAll(word)
}

// WorkerPID returns the announced worker pid, or 0.
func (c *Channel) WorkerPID() int {
	return int(atomic.LoadUint32(c.segment.word(offsetWorkerPID)))
}

// WaitWorker blocks until a worker announces itself, exited is closed,
// or ctx ends.
func (c *Channel) WaitWorker(ctx context.Context, exited <-chan struct{}) (int, error) {
	word := c.segment.word(offsetWorkerPID)
	for {
		if pid := atomic.LoadUint32(word); pid != 0 {
			return int(pid), nil
		}
		select {
		case <-exited:
			return 0, fmt.Errorf("worker exited before announcing on %s", c.segment.linkPath)
		default:
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: waiting for worker on %s: %w", ErrTimeout, c.segment.linkPath, err)
		}
		futexWait(word, 0, readyWaitSlice)
	}
}

// Exchange posts request and waits up to timeout for the reply that
// echoes its sequence. Replies to earlier, abandoned requests are
// ignored. It returns the content tag and a private copy of the
// payload.
func (c *Channel) Exchange(request ipc.Request, timeout time.Duration) (ipc.ContentTag, []byte, error) {
	data := c.segment.data
	requestWord := c.segment.word(offsetRequestSeq)
	sequence := atomic.LoadUint32(requestWord) + 1

	binary.LittleEndian.PutUint32(data[offsetMessage:], uint32(request.Message))
	binary.LittleEndian.PutUint32(data[offsetFlags:], uint32(request.Flags))
	binary.LittleEndian.PutUint64(data[offsetArgument:], uint64(request.Argument))
	atomic.StoreUint32(requestWord, sequence)
	futexWakeAll(requestWord)

	replyWord := c.segment.word(offsetReplyTo)
	deadline := time.Now().Add(timeout)
	for {
		current := atomic.LoadUint32(replyWord)
		if current == sequence {
			return c.Content()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ipc.ContentNone, nil, fmt.Errorf("%w: no reply to %s (sequence %d) after %v", ErrTimeout, request.Message, sequence, timeout)
		}
		futexWait(replyWord, current, min(remaining, waitSlice))
	}
}

// Content copies out the current content and verifies it. The caller
// must only call it after the worker has signalled completion, which
// Exchange guarantees.
func (c *Channel) Content() (ipc.ContentTag, []byte, error) {
	data := c.segment.data
	tag := ipc.ContentTag(binary.LittleEndian.Uint32(data[offsetContentTag:]))
	length := binary.LittleEndian.Uint32(data[offsetPayloadLength:])
	if length > PayloadCapacity {
		return tag, nil, fmt.Errorf("%w: payload length %d exceeds capacity %d", ErrCorrupt, length, PayloadCapacity)
	}
	payload := make([]byte, length)
	copy(payload, data[channelHeaderSize:channelHeaderSize+int(length)])

	sum := blake3.Sum256(payload)
	if string(sum[:]) != string(data[offsetChecksum:offsetChecksum+32]) {
		return tag, nil, fmt.Errorf("%w: %s payload checksum mismatch", ErrCorrupt, tag)
	}
	return tag, payload, nil
}

// RequestSequence returns the sequence of the most recent request. A
// newly attached worker starts waiting after it.
func (c *Channel) RequestSequence() uint32 {
	return atomic.LoadUint32(c.segment.word(offsetRequestSeq))
}

// AwaitRequest blocks until a request newer than after is posted or
// timeout passes (ErrTimeout). Fields are re-validated against the
// sequence word so a request overwritten mid-read is never returned.
func (c *Channel) AwaitRequest(after uint32, timeout time.Duration) (uint32, ipc.Request, error) {
	data := c.segment.data
	word := c.segment.word(offsetRequestSeq)
	deadline := time.Now().Add(timeout)
	for {
		current := atomic.LoadUint32(word)
		if current != after {
			request := ipc.Request{
				Message:  ipc.Message(binary.LittleEndian.Uint32(data[offsetMessage:])),
				Flags:    ipc.RequestFlags(binary.LittleEndian.Uint32(data[offsetFlags:])),
				Argument: int64(binary.LittleEndian.Uint64(data[offsetArgument:])),
			}
			if atomic.LoadUint32(word) == current {
				return current, request, nil
			}
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return after, ipc.Request{}, ErrTimeout
		}
		futexWait(word, current, min(remaining, waitSlice))
	}
}

// Reply writes content for request sequence and wakes the supervisor.
// A payload larger than PayloadCapacity fails with ErrPayloadTooLarge
// and leaves the previous content untouched.
func (c *Channel) Reply(sequence uint32, tag ipc.ContentTag, payload []byte) error {
	if len(payload) > PayloadCapacity {
		return fmt.Errorf("%s reply of %d bytes, capacity %d: %w", tag, len(payload), PayloadCapacity, ErrPayloadTooLarge)
	}
	data := c.segment.data
	copy(data[channelHeaderSize:], payload)
	binary.LittleEndian.PutUint32(data[offsetPayloadLength:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(data[offsetContentTag:], uint32(tag))
	sum := blake3.Sum256(payload)
	copy(data[offsetChecksum:offsetChecksum+32], sum[:])

	word := c.segment.word(offsetReplyTo)
	atomic.StoreUint32(word, sequence)
	futexWakeAll(word)
	return nil
}

// LinkAlive reports whether the rendezvous link still points at this
// region. A worker uses it to notice that the supervisor recreated the
// channel underneath it.
func (c *Channel) LinkAlive() bool {
	target, err := os.Readlink(c.segment.linkPath)
	return err == nil && target == c.segment.backingPath
}
