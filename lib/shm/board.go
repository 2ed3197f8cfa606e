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
	"golang.org/x/sys/unix"
)

// Board layout, following the common header:
//
//	0x14  4   lock word: bit 31 writer held, bit 30 writer waiting,
//	          bits 0-29 reader count
//	0x18  4   publish sequence (0 = nothing published yet)
//	0x1C  4   payload length
//	0x20  32  BLAKE3-256 of the payload
//	0x40  4   pid of the last writer to take the lock
//	0x48  BoardCapacity bytes of payload
const (
	boardMagic = "SYSMONGB"

	offsetLock          = 0x14
	offsetPublishSeq    = 0x18
	offsetBoardLength   = 0x1C
	offsetBoardChecksum = 0x20
	offsetWriterPID     = 0x40
	boardHeaderSize     = 0x48

	// BoardCapacity bounds one published snapshot.
	BoardCapacity = 64 << 10

	boardSize = boardHeaderSize + BoardCapacity

	writerBit  = uint32(1) << 31
	waitingBit = uint32(1) << 30
	readerMask = waitingBit - 1
)

// ErrLockTimeout is returned when a board lock cannot be acquired in
// time.
var ErrLockTimeout = errors.New("board lock timed out")

// Board is a continuously published snapshot region. One process at a
// time writes with Publish; any number of readers call Snapshot
// concurrently.
//
// A waiting writer blocks new readers, so a steady stream of snapshots
// cannot starve Publish. A write lock left behind by a writer that
// died is broken by the next writer once the recorded pid is gone, or
// by ResetWriter from a process that knows the writer was reaped.
type Board struct {
	segment *segment
	pid     uint32

	// writing is set while this handle holds the write lock.
	writing atomic.Bool
}

// CreateOrOpenBoard creates or attaches to the board behind linkPath
// with the same ownership rules as CreateOrOpen.
func CreateOrOpenBoard(ctx context.Context, linkPath string, forceNew bool, options ...Option) (*Board, error) {
	seg, err := openSegment(ctx, linkPath, forceNew, boardMagic, boardSize, resolveOptions(options))
	if err != nil {
		return nil, err
	}
	return &Board{segment: seg, pid: uint32(os.Getpid())}, nil
}

// IsOwner reports whether this process created the board.
func (b *Board) IsOwner() bool { return b.segment.owner }

// Close unmaps the board, releasing a write lock this handle holds.
func (b *Board) Close() error {
	b.releaseAbandoned()
	return b.segment.unmap()
}

// Remove unmaps and, for the owner, deletes the link and backing file.
func (b *Board) Remove() error {
	b.releaseAbandoned()
	return b.segment.remove()
}

func (b *Board) releaseAbandoned() {
	if b.segment.data != nil && b.writing.Load() {
		b.unlock()
	}
}

// ResetWriter breaks a write lock, or clears a pending writer, left by
// the writer with the given pid. The caller must know that writer is
// gone; pid is compared with the recorded writer in the writer's own
// pid namespace. It reports whether anything was cleared.
func (b *Board) ResetWriter(pid int) bool {
	if pid <= 0 || b.segment.data == nil {
		return false
	}
	if atomic.LoadUint32(b.segment.word(offsetWriterPID)) != uint32(pid) {
		return false
	}
	word := b.segment.word(offsetLock)
	for {
		state := atomic.LoadUint32(word)
		if state&(writerBit|waitingBit) == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(word, state, state&readerMask) {
			futexWakeAll(word)
			return true
		}
	}
}

// Publish replaces the snapshot under the write lock.
func (b *Board) Publish(payload []byte, timeout time.Duration) error {
	if len(payload) > BoardCapacity {
		return fmt.Errorf("board snapshot of %d bytes, capacity %d: %w", len(payload), BoardCapacity, ErrPayloadTooLarge)
	}
	if err := b.lock(timeout); err != nil {
		return err
	}
	defer b.unlock()

	data := b.segment.data
	copy(data[boardHeaderSize:], payload)
	binary.LittleEndian.PutUint32(data[offsetBoardLength:], uint32(len(payload)))
	sum := blake3.Sum256(payload)
	copy(data[offsetBoardChecksum:offsetBoardChecksum+32], sum[:])
	atomic.AddUint32(b.segment.word(offsetPublishSeq), 1)
	return nil
}

// Snapshot copies the current payload under a read lock. sequence is 0
// when nothing has been published yet.
func (b *Board) Snapshot(timeout time.Duration) (sequence uint32, payload []byte, err error) {
	if err := b.rlock(timeout); err != nil {
		return 0, nil, err
	}
	defer b.runlock()

	data := b.segment.data
	sequence = atomic.LoadUint32(b.segment.word(offsetPublishSeq))
	if sequence == 0 {
		return 0, nil, nil
	}
	length := binary.LittleEndian.Uint32(data[offsetBoardLength:])
	if length > BoardCapacity {
		return 0, nil, fmt.Errorf("%w: board length %d exceeds capacity", ErrCorrupt, length)
	}
	payload = make([]byte, length)
	copy(payload, data[boardHeaderSize:boardHeaderSize+int(length)])
	sum := blake3.Sum256(payload)
	if string(sum[:]) != string(data[offsetBoardChecksum:offsetBoardChecksum+32]) {
		return 0, nil, fmt.Errorf("%w: board checksum mismatch", ErrCorrupt)
	}
	return sequence, payload, nil
}

func (b *Board) lock(timeout time.Duration) error {
	word := b.segment.word(offsetLock)
	deadline := time.Now().Add(timeout)
	for {
		state := atomic.LoadUint32(word)
		switch {
		case state&(writerBit|readerMask) == 0:
			if atomic.CompareAndSwapUint32(word, state, writerBit) {
				atomic.StoreUint32(b.segment.word(offsetWriterPID), b.pid)
				b.writing.Store(true)
				return nil
			}
			continue
		case state&writerBit == 0 && state&waitingBit == 0:
			// Readers are inside; stop new ones from joining.
			atomic.CompareAndSwapUint32(word, state, state|waitingBit)
			continue
		case state&writerBit != 0 && b.breakDeadWriter(state):
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			b.withdraw(word)
			return fmt.Errorf("%w: write lock (state %#x)", ErrLockTimeout, state)
		}
		futexWait(word, state, min(remaining, waitSlice))
	}
}

// withdraw clears the waiting bit so readers are not held back by a
// writer that gave up.
func (b *Board) withdraw(word *uint32) {
	for {
		state := atomic.LoadUint32(word)
		if state&waitingBit == 0 || atomic.CompareAndSwapUint32(word, state, state&^waitingBit) {
			futexWakeAll(word)
			return
		}
	}
}

// breakDeadWriter clears a write lock whose recorded holder no longer
// exists. Writers share a pid namespace, so the check is only made on
// the writer path.
func (b *Board) breakDeadWriter(state uint32) bool {
	holder := atomic.LoadUint32(b.segment.word(offsetWriterPID))
	if holder == 0 || holder == b.pid || processAlive(int(holder)) {
		return false
	}
	if !atomic.CompareAndSwapUint32(b.segment.word(offsetLock), state, state&^writerBit) {
		return false
	}
	futexWakeAll(b.segment.word(offsetLock))
	return true
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func (b *Board) unlock() {
	b.writing.Store(false)
	word := b.segment.word(offsetLock)
	atomic.StoreUint32(word, 0)
	futexWakeAll(word)
}

func (b *Board) rlock(timeout time.Duration) error {
	word := b.segment.word(offsetLock)
	deadline := time.Now().Add(timeout)
	for {
		state := atomic.LoadUint32(word)
		if state&(writerBit|waitingBit) == 0 {
			if atomic.CompareAndSwapUint32(word, state, state+1) {
				return nil
			}
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: read lock (state %#x)", ErrLockTimeout, state)
		}
		futexWait(word, state, min(remaining, waitSlice))
	}
}

func (b *Board) runlock() {
	word := b.segment.word(offsetLock)
	if atomic.AddUint32(word, ^uint32(0))&readerMask == 0 {
		futexWakeAll(word)
	}
}
