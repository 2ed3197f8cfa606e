// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package apps derives the process tree and the running-app view from
// the gatherer's flat process list and installed-app list.
//
// [BuildTree] links processes by parent pid into a tree rooted at
// pid 1. [Correlate] walks that tree depth-first and attributes each
// process, with all of its descendants, to the first installed app
// whose desktop entry launches it. Flatpak applications are recognised
// through their "flatpak run" process or the bwrap sandbox that hosts
// them.
package apps
