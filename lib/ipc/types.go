// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
)

// Chunk capacities. A worker never places more than this many items in
// one chunk, and decoders reject chunks that claim more.
const (
	ProcessChunkCapacity    = 64
	AppChunkCapacity        = 16
	LogicalCPUChunkCapacity = 64
	GPUChunkCapacity        = 16

	// AppPIDCapacity bounds App.PIDs. Correlation stops attributing
	// PIDs to an app past this count and reports the overflow.
	AppPIDCapacity = 100
)

// ErrCapacityExceeded is returned when a chunk or an App carries more
// items than its fixed capacity allows.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ContentTag discriminates the content variant carried by a reply.
// Values are protocol constants shared with the worker.
type ContentTag uint32

const (
	ContentNone ContentTag = iota
	ContentProcesses
	ContentApps
	ContentCPUStaticInfo
	ContentCPUDynamicInfo
	ContentLogicalCPUs
	ContentGPUList
	ContentGPUStaticInfo
	ContentGPUDynamicInfo
	ContentAcknowledgement

	contentLimit
)

var contentNames = [...]string{
	ContentNone:            "none",
	ContentProcesses:       "processes",
	ContentApps:            "apps",
	ContentCPUStaticInfo:   "cpu-static-info",
	ContentCPUDynamicInfo:  "cpu-dynamic-info",
	ContentLogicalCPUs:     "logical-cpus",
	ContentGPUList:         "gpu-list",
	ContentGPUStaticInfo:   "gpu-static-info",
	ContentGPUDynamicInfo:  "gpu-dynamic-info",
	ContentAcknowledgement: "acknowledgement",
}

func (tag ContentTag) String() string {
	if tag < contentLimit {
		return contentNames[tag]
	}
	return fmt.Sprintf("content(%d)", uint32(tag))
}

// Valid reports whether tag is a defined protocol value.
func (tag ContentTag) Valid() bool {
	return tag < contentLimit
}

// IsChunked reports whether content with this tag is a chunk of a
// larger collection.
func (tag ContentTag) IsChunked() bool {
	switch tag {
	case ContentProcesses, ContentApps, ContentLogicalCPUs,
		ContentGPUList, ContentGPUStaticInfo, ContentGPUDynamicInfo:
		return true
	}
	return false
}

// Content is one reply payload. Implementations are the concrete
// variants below; Tag identifies which.
type Content interface {
	Tag() ContentTag
}

// Chunk is a Content that carries one page of a collection.
type Chunk interface {
	Content
	Complete() bool
	Len() int
	Validate() error
}

// Usage is the fixed per-process (or per-app) resource block. Its
// field order is part of the wire layout.
type Usage struct {
	CPU     float32 `json:"cpu"`
	Memory  float32 `json:"memory"`
	Disk    float32 `json:"disk"`
	Network float32 `json:"network"`
	GPU     float32 `json:"gpu"`
}

// Add accumulates other into usage.
func (usage *Usage) Add(other Usage) {
	usage.CPU += other.CPU
	usage.Memory += other.Memory
	usage.Disk += other.Disk
	usage.Network += other.Network
	usage.GPU += other.GPU
}

// Process is one node of the process tree. In chunk streams the worker
// sends processes flat (Children empty) and the supervisor rebuilds the
// tree from ParentPID; the wire layout still supports nested children.
type Process struct {
	Name      string    `json:"name"`
	Cmd       []string  `json:"cmd,omitempty"`
	Exe       string    `json:"exe,omitempty"`
	State     byte      `json:"state"`
	PID       uint32    `json:"pid"`
	ParentPID uint32    `json:"parent_pid"`
	Children  []Process `json:"children,omitempty"`
	Usage     Usage     `json:"usage"`
}

// ProcessChunk is one page of the process list.
type ProcessChunk struct {
	Processes  []Process `json:"processes"`
	IsComplete bool      `json:"is_complete"`
}

func (ProcessChunk) Tag() ContentTag { return ContentProcesses }
func (chunk ProcessChunk) Complete() bool { return chunk.IsComplete }
func (chunk ProcessChunk) Len() int { return len(chunk.Processes) }

func (chunk ProcessChunk) Validate() error {
	if len(chunk.Processes) > ProcessChunkCapacity {
		return fmt.Errorf("process chunk holds %d entries, limit %d: %w",
			len(chunk.Processes), ProcessChunkCapacity, ErrCapacityExceeded)
	}
	return nil
}

// App is an installed application, optionally annotated with the
// running processes attributed to it.
type App struct {
	Name    string `json:"name"`
	Icon    string `json:"icon,omitempty"`
	ID      string `json:"id"`
	Command string `json:"command,omitempty"`

	// Exec is the desktop entry's Exec line with field codes intact.
	Exec  string   `json:"exec,omitempty"`
	PIDs  []uint32 `json:"pids,omitempty"`
	Usage Usage    `json:"usage"`
}

// Validate enforces AppPIDCapacity.
func (app App) Validate() error {
	if len(app.PIDs) > AppPIDCapacity {
		return fmt.Errorf("app %q has %d pids, limit %d: %w",
			app.ID, len(app.PIDs), AppPIDCapacity, ErrCapacityExceeded)
	}
	return nil
}

// AppChunk is one page of the installed-app list.
type AppChunk struct {
	Apps       []App `json:"apps"`
	IsComplete bool  `json:"is_complete"`
}

func (AppChunk) Tag() ContentTag { return ContentApps }
func (chunk AppChunk) Complete() bool { return chunk.IsComplete }
func (chunk AppChunk) Len() int { return len(chunk.Apps) }

func (chunk AppChunk) Validate() error {
	if len(chunk.Apps) > AppChunkCapacity {
		return fmt.Errorf("app chunk holds %d entries, limit %d: %w",
			len(chunk.Apps), AppChunkCapacity, ErrCapacityExceeded)
	}
	var errs []error
	for _, app := range chunk.Apps {
		if err := app.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CPUStaticInfo describes properties of the CPU that do not change
// while the machine is running.
type CPUStaticInfo struct {
	Name            string  `json:"name"`
	Vendor          string  `json:"vendor"`
	LogicalCPUs     uint32  `json:"logical_cpus"`
	PhysicalCores   uint32  `json:"physical_cores"`
	Sockets         uint32  `json:"sockets"`
	MaxFrequencyMHz float64 `json:"max_frequency_mhz"`
	L1CacheKB       uint32  `json:"l1_cache_kb,omitempty"`
	L2CacheKB       uint32  `json:"l2_cache_kb,omitempty"`
	L3CacheKB       uint32  `json:"l3_cache_kb,omitempty"`
	Virtualization  string  `json:"virtualization,omitempty"`
	KernelVersion   string  `json:"kernel_version,omitempty"`
}

func (CPUStaticInfo) Tag() ContentTag { return ContentCPUStaticInfo }

// CPUDynamicInfo is a point-in-time sample of system-wide CPU state.
type CPUDynamicInfo struct {
	Utilization     float32    `json:"utilization"`
	FrequencyMHz    float64    `json:"frequency_mhz"`
	TemperatureC    float32    `json:"temperature_c,omitempty"`
	ProcessCount    uint32     `json:"process_count"`
	ThreadCount     uint32     `json:"thread_count"`
	UptimeSeconds   uint64     `json:"uptime_seconds"`
	LoadAverage     [3]float64 `json:"load_average"`
	MemoryUsed      uint64     `json:"memory_used"`
	MemoryTotal     uint64     `json:"memory_total"`
	ContextSwitches uint64     `json:"context_switches,omitempty"`
}

func (CPUDynamicInfo) Tag() ContentTag { return ContentCPUDynamicInfo }

// LogicalCPU is the sample for one logical processor.
type LogicalCPU struct {
	Index        uint32  `json:"index"`
	Utilization  float32 `json:"utilization"`
	FrequencyMHz float64 `json:"frequency_mhz,omitempty"`
}

// LogicalCPUChunk is one page of per-core samples.
type LogicalCPUChunk struct {
	CPUs       []LogicalCPU `json:"cpus"`
	IsComplete bool         `json:"is_complete"`
}

func (LogicalCPUChunk) Tag() ContentTag { return ContentLogicalCPUs }
func (chunk LogicalCPUChunk) Complete() bool { return chunk.IsComplete }
func (chunk LogicalCPUChunk) Len() int { return len(chunk.CPUs) }

func (chunk LogicalCPUChunk) Validate() error {
	if len(chunk.CPUs) > LogicalCPUChunkCapacity {
		return fmt.Errorf("logical cpu chunk holds %d entries, limit %d: %w",
			len(chunk.CPUs), LogicalCPUChunkCapacity, ErrCapacityExceeded)
	}
	return nil
}

// GPUDescriptor identifies a GPU. ID is the PCI slot address, which is
// the join key between descriptors, static info, and dynamic samples.
type GPUDescriptor struct {
	ID       string `json:"id"`
	Card     string `json:"card"`
	Vendor   string `json:"vendor"`
	Driver   string `json:"driver"`
	DeviceID string `json:"device_id,omitempty"`
}

// GPUListChunk is one page of GPU descriptors.
type GPUListChunk struct {
	GPUs       []GPUDescriptor `json:"gpus"`
	IsComplete bool            `json:"is_complete"`
}

func (GPUListChunk) Tag() ContentTag { return ContentGPUList }
func (chunk GPUListChunk) Complete() bool { return chunk.IsComplete }
func (chunk GPUListChunk) Len() int { return len(chunk.GPUs) }

func (chunk GPUListChunk) Validate() error {
	return validateGPUCount(len(chunk.GPUs))
}

// GPUStaticInfo holds properties of a GPU that do not change at runtime.
type GPUStaticInfo struct {
	ID                          string `json:"id"`
	Vendor                      string `json:"vendor"`
	Driver                      string `json:"driver"`
	DeviceID                    string `json:"device_id,omitempty"`
	VRAMTotalBytes              uint64 `json:"vram_total_bytes"`
	VBIOSVersion                string `json:"vbios_version,omitempty"`
	PCIeLinkWidth               uint32 `json:"pcie_link_width,omitempty"`
	ThermalCriticalMillidegrees int32  `json:"thermal_critical_millidegrees,omitempty"`
}

// GPUStaticChunk is one page of GPU static info.
type GPUStaticChunk struct {
	GPUs       []GPUStaticInfo `json:"gpus"`
	IsComplete bool            `json:"is_complete"`
}

func (GPUStaticChunk) Tag() ContentTag { return ContentGPUStaticInfo }
func (chunk GPUStaticChunk) Complete() bool { return chunk.IsComplete }
func (chunk GPUStaticChunk) Len() int { return len(chunk.GPUs) }

func (chunk GPUStaticChunk) Validate() error {
	return validateGPUCount(len(chunk.GPUs))
}

// GPUDynamicInfo is a point-in-time GPU sample.
type GPUDynamicInfo struct {
	ID                      string  `json:"id"`
	UtilizationPercent      float32 `json:"utilization_percent"`
	VRAMUsedBytes           uint64  `json:"vram_used_bytes"`
	TemperatureMillidegrees int32   `json:"temperature_millidegrees,omitempty"`
	PowerDrawMicrowatts     uint64  `json:"power_draw_microwatts,omitempty"`
	GraphicsClockMHz        uint32  `json:"graphics_clock_mhz,omitempty"`
	MemoryClockMHz          uint32  `json:"memory_clock_mhz,omitempty"`
}

// GPUDynamicChunk is one page of GPU samples.
type GPUDynamicChunk struct {
	GPUs       []GPUDynamicInfo `json:"gpus"`
	IsComplete bool             `json:"is_complete"`
}

func (GPUDynamicChunk) Tag() ContentTag { return ContentGPUDynamicInfo }
func (chunk GPUDynamicChunk) Complete() bool { return chunk.IsComplete }
func (chunk GPUDynamicChunk) Len() int { return len(chunk.GPUs) }

func (chunk GPUDynamicChunk) Validate() error {
	return validateGPUCount(len(chunk.GPUs))
}

func validateGPUCount(count int) error {
	if count > GPUChunkCapacity {
		return fmt.Errorf("gpu chunk holds %d entries, limit %d: %w",
			count, GPUChunkCapacity, ErrCapacityExceeded)
	}
	return nil
}

// GPUTelemetry is the snapshot the worker publishes on the GPU board.
// It is not a reply and has no content tag.
type GPUTelemetry struct {
	// SampledAt is the sample time in Unix nanoseconds.
	SampledAt int64            `json:"sampled_at"`
	GPUs      []GPUDynamicInfo `json:"gpus"`
}

// Acknowledgement answers control messages and Exit. OK is false when
// the worker could not perform the action; Error then says why.
type Acknowledgement struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (Acknowledgement) Tag() ContentTag { return ContentAcknowledgement }

// Reply is a decoded worker reply.
type Reply struct {
	Content Content
}

// Tag returns the content tag, or ContentNone for an empty reply.
func (reply Reply) Tag() ContentTag {
	if reply.Content == nil {
		return ContentNone
	}
	return reply.Content.Tag()
}

// ChunkCapacity returns the per-chunk item limit for a chunked tag, or
// zero for single-shot content.
func ChunkCapacity(tag ContentTag) int {
	switch tag {
	case ContentProcesses:
		return ProcessChunkCapacity
	case ContentApps:
		return AppChunkCapacity
	case ContentLogicalCPUs:
		return LogicalCPUChunkCapacity
	case ContentGPUList, ContentGPUStaticInfo, ContentGPUDynamicInfo:
		return GPUChunkCapacity
	}
	return 0
}
