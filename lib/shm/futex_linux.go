// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package shm

import (
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared futex operations. The _PRIVATE variants key the wait queue on
// the virtual address within one process and would never wake a waiter
// in the peer process.
const (
	futexOpWait = 0
	futexOpWake = 1
)

// futexWait sleeps while *addr == expected, for at most timeout.
// Spurious wakeups, value mismatches, interrupts, and timeouts all
// return; callers re-check their condition in a loop.
func futexWait(addr *uint32, expected uint32, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	timespec := unix.NsecToTimespec(int64(timeout))
	unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(expected),
		uintptr(unsafe.Pointer(&timespec)),
		0, 0)
}

// futexWakeAll wakes every process waiting on addr.
func futexWakeAll(addr *uint32) {
	unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(math.MaxInt32),
		0, 0, 0)
}
