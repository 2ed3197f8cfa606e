// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import "golang.org/x/sys/unix"

// setParentDeathSignal has the kernel SIGKILL the worker when the
// thread that spawned it exits.
func setParentDeathSignal() error {
	return unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0)
}
