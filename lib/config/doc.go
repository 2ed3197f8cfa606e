// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the sysmon
// supervisor.
//
// Configuration comes from a single file named by the SYSMON_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). With neither, [Default] applies. YAML is the primary
// format; files ending in .json or .jsonc are accepted with comments
// and trailing commas.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_CACHE_HOME}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- transport, retry budget, gatherer location, GPU board
//   - [Default] -- the built-in configuration
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other sysmon packages.
package config
