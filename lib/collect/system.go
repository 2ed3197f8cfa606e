// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/bureau-foundation/sysmon/lib/hwinfo"
	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// Config configures a System collector. Zero values select the real
// machine.
type Config struct {
	// GPUs enumerates and samples GPUs. Nil means hwinfo.NewGPUProber().
	GPUs *hwinfo.GPUProber

	// ApplicationDirectories are searched for desktop entries. Nil
	// means ApplicationDirectories().
	ApplicationDirectories []string

	Logger *slog.Logger
}

// System collects telemetry from the local machine.
type System struct {
	gpus                   *hwinfo.GPUProber
	applicationDirectories []string
	logger                 *slog.Logger

	mu              sync.Mutex
	previousSamples map[int32]processSample
	previousScan    time.Time
	clock           func() time.Time
}

// New creates a System collector.
func New(config Config) *System {
	if config.GPUs == nil {
		config.GPUs = hwinfo.NewGPUProber()
	}
	if config.ApplicationDirectories == nil {
		config.ApplicationDirectories = ApplicationDirectories()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &System{
		gpus:                   config.GPUs,
		applicationDirectories: config.ApplicationDirectories,
		logger:                 config.Logger,
	}
}

// InstalledApps reads the desktop entries.
func (s *System) InstalledApps(ctx context.Context) ([]ipc.App, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadInstalledApps(s.applicationDirectories), nil
}

// CPUStatic describes the processor package.
func (s *System) CPUStatic(ctx context.Context) (ipc.CPUStaticInfo, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return ipc.CPUStaticInfo{}, fmt.Errorf("reading cpu info: %w", err)
	}
	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return ipc.CPUStaticInfo{}, fmt.Errorf("counting logical cpus: %w", err)
	}

	topology := hwinfo.ProbeTopology()
	info := ipc.CPUStaticInfo{
		LogicalCPUs:    uint32(logical),
		PhysicalCores:  uint32(topology.PhysicalCores),
		Sockets:        uint32(topology.Sockets),
		L1CacheKB:      uint32(topology.L1CacheKB),
		L2CacheKB:      uint32(topology.L2CacheKB),
		L3CacheKB:      uint32(topology.L3CacheKB),
		Virtualization: topology.Virtualization,
	}
	if len(infos) > 0 {
		info.Name = strings.TrimSpace(infos[0].ModelName)
		info.Vendor = infos[0].VendorID
		for _, entry := range infos {
			info.MaxFrequencyMHz = max(info.MaxFrequencyMHz, entry.Mhz)
		}
	}
	if info.PhysicalCores == 0 {
		if physical, err := cpu.CountsWithContext(ctx, false); err == nil {
			info.PhysicalCores = uint32(physical)
		}
	}
	if info.Sockets == 0 {
		info.Sockets = 1
	}
	if kernel, err := host.KernelVersionWithContext(ctx); err == nil {
		info.KernelVersion = kernel
	}
	return info, nil
}

// CPUDynamic samples system-wide CPU and memory state. Utilization is
// measured since the previous call.
func (s *System) CPUDynamic(ctx context.Context) (ipc.CPUDynamicInfo, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return ipc.CPUDynamicInfo{}, fmt.Errorf("reading cpu utilization: %w", err)
	}
	memory, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return ipc.CPUDynamicInfo{}, fmt.Errorf("reading memory: %w", err)
	}

	info := ipc.CPUDynamicInfo{
		MemoryUsed:  memory.Used,
		MemoryTotal: memory.Total,
	}
	if len(percents) > 0 {
		info.Utilization = float32(percents[0])
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		var total float64
		for _, entry := range infos {
			total += entry.Mhz
		}
		info.FrequencyMHz = total / float64(len(infos))
	}
	if average, err := load.AvgWithContext(ctx); err == nil {
		info.LoadAverage = [3]float64{average.Load1, average.Load5, average.Load15}
	}
	if misc, err := load.MiscWithContext(ctx); err == nil {
		info.ThreadCount = uint32(misc.ProcsTotal)
		info.ContextSwitches = uint64(misc.Ctxt)
	}
	if pids, err := process.PidsWithContext(ctx); err == nil {
		info.ProcessCount = uint32(len(pids))
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		info.UptimeSeconds = uptime
	}
	if temperatures, err := host.SensorsTemperaturesWithContext(ctx); err == nil {
		info.TemperatureC = float32(packageTemperature(temperatures))
	}
	return info, nil
}

// packageTemperature picks the CPU package sensor: k10temp's Tctl on
// AMD, coretemp's package sensor on Intel.
func packageTemperature(temperatures []host.TemperatureStat) float64 {
	for _, preferred := range []string{"k10temp_tctl", "coretemp_package_id_0", "zenpower_tdie", "cpu_thermal"} {
		for _, sensor := range temperatures {
			if strings.HasPrefix(sensor.SensorKey, preferred) {
				return sensor.Temperature
			}
		}
	}
	return 0
}

// LogicalCPUs samples every logical processor. Utilization is measured
// since the previous call.
func (s *System) LogicalCPUs(ctx context.Context) ([]ipc.LogicalCPU, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return nil, fmt.Errorf("reading per-cpu utilization: %w", err)
	}
	infos, _ := cpu.InfoWithContext(ctx)

	cpus := make([]ipc.LogicalCPU, len(percents))
	for index, percent := range percents {
		cpus[index] = ipc.LogicalCPU{Index: uint32(index), Utilization: float32(percent)}
		if index < len(infos) {
			cpus[index].FrequencyMHz = infos[index].Mhz
		}
	}
	return cpus, nil
}

// GPUs enumerates GPUs.
func (s *System) GPUs(ctx context.Context) ([]ipc.GPUDescriptor, error) {
	return s.gpus.Enumerate(), ctx.Err()
}

// GPUStatic reads static GPU properties.
func (s *System) GPUStatic(ctx context.Context) ([]ipc.GPUStaticInfo, error) {
	return s.gpus.Static(), ctx.Err()
}

// GPUDynamic samples GPU sensors.
func (s *System) GPUDynamic(ctx context.Context) ([]ipc.GPUDynamicInfo, error) {
	return s.gpus.Dynamic(), ctx.Err()
}
