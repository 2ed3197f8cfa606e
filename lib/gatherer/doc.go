// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gatherer owns one gatherer worker process and the channel to
// it.
//
// A [Handle] spawns the worker through a [Launcher], waits for it to
// announce readiness over a [Transport], and then runs request/reply
// exchanges with [Handle.Execute]. Execute hides worker failures from
// callers: a reply timeout is retried, a second consecutive timeout
// kills and respawns the worker before the final attempt, and a crashed
// or disconnected worker is respawned immediately. The reply callback
// receives a restarted flag whenever the stream it was accumulating may
// have been cut, so partial chunked results are never mixed across
// worker incarnations. When the retry budget is exhausted Execute
// returns a [*FatalError]; it never reports stale data as success.
//
// Two transports are provided. [NewSharedMemoryTransport] uses the
// futex-synchronised region from lib/shm and is the default.
// [NewSocketTransport] uses a unix stream socket with the framed codec
// from lib/wire, for hosts where the two processes cannot share a
// memory mapping.
//
// [Environment] captures everything the spawn path needs to know about
// the process's surroundings (sandboxing, cache directory, sibling
// binaries) as an explicit value so tests can construct one directly.
package gatherer
