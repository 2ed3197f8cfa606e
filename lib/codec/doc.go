// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR configuration used for every
// internal binary encoding in sysmon: single-shot reply payloads
// (CPU info, acknowledgements), GPU telemetry board snapshots, and the
// on-disk incarnation state file.
//
// Process and app records do not go through CBOR; they use the
// byte-exact record layout in lib/wire.
//
// # Struct Tag Rules
//
// Types that are also printed by the CLI carry `json` tags only.
// fxamacker/cbor v2 falls back to `json` tags when `cbor` tags are
// absent, so one tag controls naming in both formats. Types that are
// only ever CBOR (state files) carry `cbor` tags. Never use both on the
// same field.
package codec
