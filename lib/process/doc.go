// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the two ways a sysmon binary ends after an
// unrecoverable error:
//
//   - [Fatal] reports an error from run() to stderr, before or without
//     the structured logger, and exits.
//   - [Terminator] logs through the structured logger and exits from
//     inside a long-running component, such as a supervisor whose
//     gatherer retry budget is exhausted under the exit policy.
package process
