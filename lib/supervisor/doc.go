// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor is the API applications use to read system data
// from a sysmon gatherer.
//
// [Open] reads a lib/config configuration, recovers from a previous
// supervisor that exited without cleaning up (killing its orphaned
// gatherer), creates the shared-memory or socket endpoint, spawns the
// gatherer, and records the incarnation in a lib/watchdog state file
// next to the endpoint.
//
// The [Supervisor] accessors each perform one logical request. Chunked
// results are accumulated until a complete chunk arrives; a retry or a
// gatherer respawn discards the partial result, so a caller never sees
// items from two snapshots. When the retry budget is exhausted the
// configured fatal policy applies: config.FatalExit terminates the
// process, config.FatalRestart restarts the gatherer and returns an
// error wrapping [ErrDegraded].
//
// Process control ([Supervisor.KillProcess] and friends) is a side
// channel: each request is sent once and never retried, and a request
// made while the gatherer is down is logged and dropped.
//
// When GPU telemetry is enabled the gatherer publishes samples to a
// shared-memory board that [Supervisor.GPUTelemetry] reads without a
// round trip.
package supervisor
