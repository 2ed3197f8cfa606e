// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by sysmon's tests.
//
// [SocketDir] makes a short directory under /tmp, since unix socket
// paths are limited to 108 bytes. [RequireReceive] and [RequireClosed]
// bound waits on channels so a wedged handshake fails the test instead
// of hanging it.
package testutil
