// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox handles the boundary between a sandboxed monitor and
// the host it monitors.
//
// A monitor packaged as a Flatpak cannot see host processes, so its
// gatherer must run on the host. [DetectFlatpak] reads /.flatpak-info,
// [HostCommand] wraps a command line with flatpak-spawn --host, and
// [ProbeVariant] picks between the glibc and musl gatherer builds by
// running the glibc one with [ProbeFlag] on the host. The bundled
// binary lives inside the sandbox's /app, which the host cannot
// execute, so [InstallHostBinary] copies it into a host-visible cache
// directory first, skipping the copy when the content digest is
// unchanged.
//
// [DetectCapabilities] and [Validator] back the "sysmon doctor"
// pre-flight report.
package sandbox
