// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the sysmon CLI.
//
// A [Command] tree is assembled in cmd/sysmon and dispatched with
// [Command.Execute], which routes subcommands, parses pflag flags, and
// prints structured help. Unknown commands and flags get a "did you
// mean" suggestion when one is within a small edit distance.
//
// [JSONOutput] gives any command a --json flag, and [ExitError] lets a
// command choose its exit code after printing its own output.
package cli
