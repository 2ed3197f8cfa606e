// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo reads hardware facts that gopsutil does not cover
// from /sys and /proc on Linux.
//
// # CPU topology
//
// [ProbeTopology] counts sockets and physical cores and reads the
// cache hierarchy of cpu0, filling the parts of the CPU static info
// that the generic collectors leave empty.
//
// # GPUs
//
// [GPUProber] walks /sys/class/drm/card* and identifies each GPU by
// its PCI slot. Static properties (VRAM size, VBIOS, PCIe link width,
// thermal limit) and live sensors (busy percent, VRAM used, hwmon
// temperature and power, active clocks) are read from the same sysfs
// files for every vendor; whatever a driver does not expose reads as
// zero. A machine with no GPUs yields empty lists, not errors.
//
// # DRM helpers
//
// drm.go holds the sysfs helpers shared by both: card device
// filtering, PCI uevent parsing, driver identification, hwmon lookup,
// and string/integer file reading.
package hwinfo
