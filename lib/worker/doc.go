// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the gatherer side of the supervisor protocol.
//
// A [Server] attaches to the endpoint its supervisor created (a lib/shm
// channel or a unix socket), announces its pid as the readiness signal,
// and answers one request at a time from a [Collector]. Chunked
// collections are snapshotted once per stream and served in pages of
// the content's chunk capacity; a request with the stream-reset flag,
// or any other message, starts a fresh snapshot. Control messages are
// delivered as POSIX signals and answered with an acknowledgement.
//
// [Publisher] writes GPU samples to a lib/shm board for readers that
// want telemetry without a round trip.
package worker
