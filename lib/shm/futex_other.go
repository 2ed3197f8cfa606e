// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package shm

import (
	"sync/atomic"
	"time"
)

// pollInterval is the sleep used in place of a futex wait on platforms
// without one.
const pollInterval = time.Millisecond

func futexWait(addr *uint32, expected uint32, timeout time.Duration) {
	if timeout <= 0 || atomic.LoadUint32(addr) != expected {
		return
	}
	time.Sleep(min(timeout, pollInterval))
}

func futexWakeAll(addr *uint32) {}
