// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collect gathers the telemetry the gatherer serves: the
// process list, CPU samples, GPU sensors, and installed applications.
//
// Process and CPU data come from gopsutil; GPU data and the CPU cache
// topology come from lib/hwinfo's sysfs probes; installed applications
// come from a minimal desktop-entry reader. [System] keeps the previous
// process scan so that cumulative counters become rates: Usage.CPU is
// percent of one core, Usage.Disk is bytes per second, and
// Usage.Memory is resident bytes. Network and GPU usage per process
// are not collected and stay zero.
package collect
