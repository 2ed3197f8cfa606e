// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire holds the byte encodings of the gatherer protocol.
//
// Process and app records use a fixed, length-prefixed little-endian
// layout that round-trips byte for byte:
//
//	name       u32 length + bytes
//	cmd        u32 count, then per argument u32 length + bytes
//	exe        u32 length + bytes
//	state      u8
//	pid        u32
//	parent pid u32
//	children   u32 count, then each child record recursively
//	usage      5 × float32 (cpu, memory, disk, network, gpu)
//
// App records follow the same conventions: name, icon, id, command and
// exec strings, a u32 PID count with u32 PIDs, and the usage block.
// Chunks prefix their records with a u8 completion flag and a u32
// record count. Every other content variant is CBOR (lib/codec).
//
// [EncodeContent] and [DecodeContent] convert between ipc.Content and
// payload bytes and are shared by the shared-memory and socket
// transports. The socket transport additionally wraps payloads in
// frames ([WriteFrame], [ReadFrame]) with optional LZ4 or zstd
// compression.
package wire
