// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog records which supervisor owns a gatherer endpoint so
// that the next incarnation can recover after an unclean exit.
//
// The supervisor writes a [State] once its gatherer is running and
// clears it on a clean shutdown. On startup it reads any leftover state
// with [Previous]:
//
//   - no state: start normally;
//   - state whose supervisor is still alive ([State.SupervisorAlive]):
//     another instance owns the endpoint, so refuse to start;
//   - state whose supervisor is gone: force-recreate the shared channel
//     and kill the orphaned gatherer if one is still running.
//
// The file is CBOR (lib/codec) and is written atomically (temporary
// file, fsync, rename, fsync parent directory), so readers never see a
// partial state.
package watchdog
