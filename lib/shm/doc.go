// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shm implements the fixed-layout shared-memory regions used
// between the supervisor and the gatherer worker.
//
// A region is a file in /dev/shm (or another directory chosen by the
// caller, for example when /dev/shm is private to a sandbox) mapped
// MAP_SHARED by both processes. Its rendezvous name is a symlink under
// the cache directory that points at the backing file. The first
// process to create the link is the owner: it sizes the file, writes
// the header, runs optional setup, and only then stores 1 into the
// ready word and wakes waiters. Attachers block on the ready word with
// a bounded wait and never read the region before it is ready.
//
// Every field lives at a documented offset and is read through an
// accessor. Synchronisation words are 32-bit, 4-byte aligned, and
// accessed with sync/atomic; blocking uses shared (not private) futex
// operations on Linux because the waiter and the waker are different
// processes.
//
// Two region kinds exist:
//
//   - [Channel]: one request/reply slot. The supervisor posts a request
//     and waits for the worker to echo its sequence number in the
//     reply-to word, then copies out the payload and verifies its
//     BLAKE3 checksum. Replies to older sequences are ignored.
//   - [Board]: a GPU telemetry snapshot protected by a cross-process
//     reader/writer lock with writer preference. One writer publishes
//     continuously; any number of readers take snapshot copies. The
//     writer's pid is recorded so a lock left by a killed writer can be
//     broken.
//
// Common header (both kinds):
//
//	0x00  8  magic
//	0x08  4  layout version
//	0x0C  4  ready flag (futex word)
//	0x10  4  owner pid
package shm
