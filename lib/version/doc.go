// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the sysmon
// binaries and content identity for gatherer builds.
//
// # Build information
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/sysmon/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" / "0.1.0-dev" in development builds and
// test runs. [Info] formats them for --version, [Full] adds the Go
// toolchain and platform, and [Print] writes the --version line.
//
// # Binary identity
//
// [Self] and [Describe] hash executables with lib/binhash. Inside
// Flatpak the gatherer runs from a copy installed in a host-visible
// directory; [CompareInstalled] reports whether that copy has drifted
// from the build bundled with the application.
package version
