// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the message and content types exchanged between
// the supervisor and the gatherer worker process. Both the supervisor
// side (lib/gatherer, lib/supervisor) and the worker side (lib/worker)
// import this package so the protocol vocabulary is defined once.
//
// The protocol is a strict request/reply exchange. The supervisor sends
// a [Request] carrying a [Message]; the worker answers with exactly one
// [Content] value whose [ContentTag] must equal
// [Message.ExpectedContent]. Every data-returning message maps to one
// content variant, and every control message expects an
// [Acknowledgement]. A reply carrying any other tag is a protocol error.
//
// Unbounded collections (processes, apps, logical CPUs, GPUs) travel as
// fixed-capacity chunks. The supervisor re-sends the same request until
// it receives a chunk whose IsComplete flag is set. Capacities are
// exported constants; a chunk that exceeds its capacity fails
// validation with [ErrCapacityExceeded] instead of being truncated.
//
// This package holds types only. Byte encodings live in lib/wire.
package ipc
