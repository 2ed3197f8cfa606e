// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash hashes binary files with BLAKE3.
//
// Inside a Flatpak sandbox the gatherer binary shipped with the app is
// not executable on the host, so it is copied to a host-visible cache
// directory before being spawned through flatpak-spawn. Comparing
// content digests lets that copy happen only when the bundled binary
// actually changed, keeping upgrades from leaving a stale gatherer
// behind and keeping unchanged starts from rewriting the file.
package binhash
