// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Topology is the CPU layout read from /sys/devices/system/cpu.
type Topology struct {
	Sockets       int
	PhysicalCores int
	L1CacheKB     int
	L2CacheKB     int
	L3CacheKB     int

	// Virtualization is "AMD-V", "VT-x", or "" from the cpu flags.
	Virtualization string
}

// ProbeTopology reads the CPU topology from the real /sys and /proc.
// Missing or unreadable files produce zero-valued fields rather than
// failures; a container with a masked sysfs still reports what it can.
func ProbeTopology() Topology {
	return probeTopologyFrom("/sys", "/proc")
}

func probeTopologyFrom(sysRoot, procRoot string) Topology {
	cpuBase := filepath.Join(sysRoot, "devices/system/cpu")

	topology := Topology{
		Sockets:        countUniqueTopologyValues(cpuBase, "physical_package_id"),
		PhysicalCores:  countUniqueCoreIDs(cpuBase),
		L3CacheKB:      readCacheSize(filepath.Join(cpuBase, "cpu0/cache/index3/size")),
		Virtualization: readVirtualization(filepath.Join(procRoot, "cpuinfo")),
	}

	// cpu0 lists its caches as index0..indexN; the L1 data cache and the
	// L2 are told apart by level and type.
	for index := range 8 {
		directory := filepath.Join(cpuBase, "cpu0/cache", "index"+strconv.Itoa(index))
		level := ReadSysfsString(filepath.Join(directory, "level"))
		kind := ReadSysfsString(filepath.Join(directory, "type"))
		size := readCacheSize(filepath.Join(directory, "size"))
		switch {
		case level == "1" && kind == "Data":
			topology.L1CacheKB = size
		case level == "2":
			topology.L2CacheKB = size
		}
	}
	return topology
}

// cpuDirectories lists cpuN entries, skipping cpufreq, cpuidle, etc.
func cpuDirectories(cpuBase string) []string {
	entries, err := os.ReadDir(cpuBase)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if suffix, ok := strings.CutPrefix(entry.Name(), "cpu"); ok && isDigits(suffix) {
			names = append(names, entry.Name())
		}
	}
	return names
}

// countUniqueTopologyValues counts unique values of a topology field
// (e.g., physical_package_id) across all CPU directories.
func countUniqueTopologyValues(cpuBase, field string) int {
	unique := make(map[string]struct{})
	for _, name := range cpuDirectories(cpuBase) {
		value := ReadSysfsString(filepath.Join(cpuBase, name, "topology", field))
		if value != "" {
			unique[value] = struct{}{}
		}
	}
	return len(unique)
}

// countUniqueCoreIDs counts unique (physical_package_id, core_id) pairs
// across all CPUs. Core IDs repeat across sockets, so the pair is the
// physical core's identity.
func countUniqueCoreIDs(cpuBase string) int {
	type coreKey struct {
		packageID string
		coreID    string
	}
	unique := make(map[coreKey]struct{})
	for _, name := range cpuDirectories(cpuBase) {
		topologyDir := filepath.Join(cpuBase, name, "topology")
		packageID := ReadSysfsString(filepath.Join(topologyDir, "physical_package_id"))
		coreID := ReadSysfsString(filepath.Join(topologyDir, "core_id"))
		if packageID != "" && coreID != "" {
			unique[coreKey{packageID, coreID}] = struct{}{}
		}
	}
	return len(unique)
}

// readCacheSize parses a cache size file (e.g., "32768K") and returns
// the value in kilobytes.
func readCacheSize(path string) int {
	value := strings.TrimSuffix(ReadSysfsString(path), "K")
	if value == "" {
		return 0
	}
	kilobytes, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return kilobytes
}

// readVirtualization looks for the svm or vmx flag in the first flags
// line of /proc/cpuinfo.
func readVirtualization(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "flags" {
			continue
		}
		for _, flag := range strings.Fields(value) {
			switch flag {
			case "svm":
				return "AMD-V"
			case "vmx":
				return "VT-x"
			}
		}
		return ""
	}
	return ""
}
