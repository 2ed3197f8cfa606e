// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// LayoutVersion is the version written into every region header. An
// attacher refuses a region with a different version.
const LayoutVersion = 2

const (
	offsetMagic    = 0x00
	offsetVersion  = 0x08
	offsetReady    = 0x0C
	offsetOwnerPID = 0x10

	magicLength = 8

	// readyWaitSlice bounds a single futex sleep while waiting for the
	// ready flag so that context cancellation is noticed promptly.
	readyWaitSlice = 50 * time.Millisecond
)

var (
	// ErrIO reports a filesystem failure creating or removing the link
	// or backing file.
	ErrIO = errors.New("shared memory filesystem error")

	// ErrSegment reports a region that could not be sized, mapped, or
	// validated (wrong magic, version, or size).
	ErrSegment = errors.New("shared memory segment error")

	// ErrNotReady is returned when an attacher's wait for the owner to
	// finish setup ends before the ready flag is set.
	ErrNotReady = errors.New("shared memory region not ready")
)

// DefaultBackingDirectory is where backing files are created unless an
// option overrides it.
const DefaultBackingDirectory = "/dev/shm"

// Option configures CreateOrOpen and CreateOrOpenBoard.
type Option func(*openOptions)

type openOptions struct {
	backingDirectory string
	setup            func(data []byte) error
}

// WithBackingDirectory places the backing file in directory instead of
// /dev/shm. Use a directory both processes can see, for example the
// per-app cache directory when running inside a sandbox whose /dev/shm
// is private.
func WithBackingDirectory(directory string) Option {
	return func(options *openOptions) {
		options.backingDirectory = directory
	}
}

func withSetup(setup func(data []byte) error) Option {
	return func(options *openOptions) {
		options.setup = setup
	}
}

// segment is the shared part of Channel and Board: mapping, header,
// and link lifecycle.
type segment struct {
	data        []byte
	linkPath    string
	backingPath string
	owner       bool
}

func resolveOptions(options []Option) openOptions {
	resolved := openOptions{backingDirectory: DefaultBackingDirectory}
	for _, option := range options {
		option(&resolved)
	}
	if _, err := os.Stat(resolved.backingDirectory); err != nil {
		resolved.backingDirectory = os.TempDir()
	}
	return resolved
}

// openSegment implements the create-or-attach protocol for a region of
// size bytes identified by magic.
func openSegment(ctx context.Context, linkPath string, forceNew bool, magic string, size int, options openOptions) (*segment, error) {
	if len(magic) != magicLength {
		panic("shm: magic must be 8 bytes")
	}
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating link directory: %w", ErrIO, err)
	}

	if forceNew {
		if err := removeLinkAndTarget(linkPath); err != nil {
			return nil, err
		}
	}

	if _, err := os.Lstat(linkPath); err == nil {
		return attachSegment(ctx, linkPath, magic, size)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: inspecting %s: %w", ErrIO, linkPath, err)
	}

	seg, err := createSegment(linkPath, magic, size, options)
	if errors.Is(err, fs.ErrExist) {
		// Another process published the link between our Lstat and
		// Symlink. It is the owner; we attach.
		return attachSegment(ctx, linkPath, magic, size)
	}
	return seg, err
}

// removeLinkAndTarget deletes the rendezvous link and the backing file
// it points at. Both must go: a leftover backing file leaks memory in
// /dev/shm, and a leftover link makes the next open attach to stale
// data.
func removeLinkAndTarget(linkPath string) error {
	target, err := os.Readlink(linkPath)
	if err == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(linkPath), target)
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: removing stale segment %s: %w", ErrIO, target, err)
		}
	}
	if err := os.Remove(linkPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing stale link %s: %w", ErrIO, linkPath, err)
	}
	return nil
}

func createSegment(linkPath, magic string, size int, options openOptions) (*segment, error) {
	file, err := os.CreateTemp(options.backingDirectory, "sysmon-"+filepath.Base(linkPath)+"-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating backing file: %w", ErrIO, err)
	}
	backingPath := file.Name()

	data, err := mapFile(file, size, true)
	file.Close()
	if err != nil {
		os.Remove(backingPath)
		return nil, err
	}

	seg := &segment{data: data, linkPath: linkPath, backingPath: backingPath, owner: true}
	atomic.StoreUint32(seg.word(offsetReady), 0)
	copy(data[offsetMagic:offsetMagic+magicLength], magic)
	binary.LittleEndian.PutUint32(data[offsetVersion:], LayoutVersion)
	binary.LittleEndian.PutUint32(data[offsetOwnerPID:], uint32(os.Getpid()))

	if err := os.Symlink(backingPath, linkPath); err != nil {
		seg.unmap()
		os.Remove(backingPath)
		if errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: publishing link %s: %w", ErrIO, linkPath, err)
	}

	if options.setup != nil {
		if err := options.setup(data); err != nil {
			seg.remove()
			return nil, fmt.Errorf("%w: owner setup: %w", ErrSegment, err)
		}
	}

	atomic.StoreUint32(seg.word(offsetReady), 1)
	futexWakeAll(seg.word(offsetReady))
	return seg, nil
}

func attachSegment(ctx context.Context, linkPath, magic string, size int) (*segment, error) {
	target, err := os.Readlink(linkPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading link %s: %w", ErrSegment, linkPath, err)
	}
	file, err := os.OpenFile(target, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: link %s points at missing %s (stale link from an earlier run)", ErrSegment, linkPath, target)
		}
		return nil, fmt.Errorf("%w: opening %s: %w", ErrIO, target, err)
	}
	data, err := mapFile(file, size, false)
	file.Close()
	if err != nil {
		return nil, err
	}

	seg := &segment{data: data, linkPath: linkPath, backingPath: target}
	if string(data[offsetMagic:offsetMagic+magicLength]) != magic {
		seg.unmap()
		return nil, fmt.Errorf("%w: %s has magic %q, want %q", ErrSegment, target, data[offsetMagic:offsetMagic+magicLength], magic)
	}
	if version := binary.LittleEndian.Uint32(data[offsetVersion:]); version != LayoutVersion {
		seg.unmap()
		return nil, fmt.Errorf("%w: %s has layout version %d, want %d", ErrSegment, target, version, LayoutVersion)
	}

	if err := seg.waitReady(ctx); err != nil {
		seg.unmap()
		return nil, err
	}
	return seg, nil
}

// mapFile maps size bytes of file. The owner sizes the file first; an
// attacher requires the file to already have at least size bytes.
func mapFile(file *os.File, size int, create bool) ([]byte, error) {
	if create {
		if err := file.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("%w: sizing %s to %d bytes: %w", ErrSegment, file.Name(), size, err)
		}
	} else {
		info, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, file.Name(), err)
		}
		if info.Size() < int64(size) {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrSegment, file.Name(), info.Size(), size)
		}
	}
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mapping %s: %w", ErrSegment, file.Name(), err)
	}
	return data, nil
}

// waitReady blocks until the owner sets the ready flag or ctx ends.
func (s *segment) waitReady(ctx context.Context) error {
	ready := s.word(offsetReady)
	for {
		if atomic.LoadUint32(ready) == 1 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: waiting for owner of %s: %w", ErrNotReady, s.linkPath, err)
		}
		futexWait(ready, 0, readyWaitSlice)
	}
}

// word returns a pointer to the 32-bit word at offset for atomic use.
func (s *segment) word(offset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.data[offset]))
}

func (s *segment) ownerPID() int {
	return int(binary.LittleEndian.Uint32(s.data[offsetOwnerPID:]))
}

func (s *segment) unmap() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// remove unmaps and, for the owner, deletes the link and backing file.
// The link is only removed while it still points at this segment so a
// forced recreation by another process is left intact.
func (s *segment) remove() error {
	unmapErr := s.unmap()
	if !s.owner {
		return unmapErr
	}
	var errs []error
	if unmapErr != nil {
		errs = append(errs, unmapErr)
	}
	if target, err := os.Readlink(s.linkPath); err == nil && target == s.backingPath {
		if err := os.Remove(s.linkPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("%w: removing link: %w", ErrIO, err))
		}
	}
	if err := os.Remove(s.backingPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("%w: removing backing file: %w", ErrIO, err))
	}
	return errors.Join(errs...)
}
