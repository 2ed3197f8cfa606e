// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// GPUProber enumerates display adapters through /sys/class/drm and
// reads their static properties and live sensors from sysfs. It works
// for every vendor; amdgpu exposes the most, nvidia's proprietary
// driver the least (static identity only, enriched from
// /proc/driver/nvidia).
type GPUProber struct {
	sysRoot  string
	procRoot string
}

// NewGPUProber creates a prober that reads the real /sys and /proc.
func NewGPUProber() *GPUProber {
	return &GPUProber{sysRoot: "/sys", procRoot: "/proc"}
}

// NewGPUProberFrom creates a prober over alternate roots, for tests and
// for reading a host filesystem mounted elsewhere.
func NewGPUProberFrom(sysRoot, procRoot string) *GPUProber {
	return &GPUProber{sysRoot: sysRoot, procRoot: procRoot}
}

type card struct {
	name       string
	devicePath string
	descriptor ipc.GPUDescriptor
}

// cards returns one entry per PCI display device, ordered by card
// index. Cards without a PCI slot (virtual or platform devices) are
// skipped since the slot is the GPU's identity.
func (p *GPUProber) cards() []card {
	drmBase := filepath.Join(p.sysRoot, "class/drm")
	entries, err := os.ReadDir(drmBase)
	if err != nil {
		return nil
	}

	var cards []card
	seen := make(map[string]bool)
	for _, entry := range entries {
		name := entry.Name()
		if !IsCardDevice(name) {
			continue
		}
		devicePath := filepath.Join(drmBase, name, "device")
		vendor, deviceID, slot := ParsePCIUevent(devicePath)
		if slot == "" || seen[slot] {
			continue
		}
		seen[slot] = true
		cards = append(cards, card{
			name:       name,
			devicePath: devicePath,
			descriptor: ipc.GPUDescriptor{
				ID:       slot,
				Card:     name,
				Vendor:   vendor,
				Driver:   ReadDriverName(devicePath),
				DeviceID: deviceID,
			},
		})
	}
	slices.SortFunc(cards, func(a, b card) int {
		return cardIndex(a.name) - cardIndex(b.name)
	})
	return cards
}

func cardIndex(name string) int {
	index := 0
	for _, character := range strings.TrimPrefix(name, "card") {
		index = index*10 + int(character-'0')
	}
	return index
}

// Enumerate returns a descriptor for every GPU. Returns nil when there
// are none, which is a valid answer on headless machines.
func (p *GPUProber) Enumerate() []ipc.GPUDescriptor {
	var descriptors []ipc.GPUDescriptor
	for _, card := range p.cards() {
		descriptors = append(descriptors, card.descriptor)
	}
	return descriptors
}

// Static reads the properties of every GPU that do not change at
// runtime.
func (p *GPUProber) Static() []ipc.GPUStaticInfo {
	var infos []ipc.GPUStaticInfo
	for _, card := range p.cards() {
		info := ipc.GPUStaticInfo{
			ID:                          card.descriptor.ID,
			Vendor:                      card.descriptor.Vendor,
			Driver:                      card.descriptor.Driver,
			DeviceID:                    card.descriptor.DeviceID,
			VRAMTotalBytes:              uint64(max(ReadSysfsInt64(filepath.Join(card.devicePath, "mem_info_vram_total")), 0)),
			VBIOSVersion:                ReadSysfsString(filepath.Join(card.devicePath, "vbios_version")),
			PCIeLinkWidth:               uint32(max(ReadSysfsInt64(filepath.Join(card.devicePath, "current_link_width")), 0)),
			ThermalCriticalMillidegrees: int32(readHwmon(card.devicePath, "temp1_crit")),
		}
		if card.descriptor.Driver == "nvidia" {
			p.enrichFromProc(&info)
		}
		infos = append(infos, info)
	}
	return infos
}

// enrichFromProc fills what the proprietary nvidia driver publishes
// under /proc/driver/nvidia/gpus/<slot>/information:
//
//	Model:           NVIDIA GeForce RTX 4090
//	Video BIOS:      95.02.3c.80.b8
func (p *GPUProber) enrichFromProc(info *ipc.GPUStaticInfo) {
	data, err := os.ReadFile(filepath.Join(p.procRoot, "driver/nvidia/gpus", info.ID, "information"))
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "Video BIOS" && info.VBIOSVersion == "" {
			info.VBIOSVersion = strings.TrimSpace(value)
		}
	}
}

// Dynamic samples the live sensors of every GPU. Sensors the driver
// does not expose read as zero.
func (p *GPUProber) Dynamic() []ipc.GPUDynamicInfo {
	var samples []ipc.GPUDynamicInfo
	for _, card := range p.cards() {
		sample := ipc.GPUDynamicInfo{
			ID:                      card.descriptor.ID,
			UtilizationPercent:      float32(ReadSysfsInt64(filepath.Join(card.devicePath, "gpu_busy_percent"))),
			VRAMUsedBytes:           uint64(max(ReadSysfsInt64(filepath.Join(card.devicePath, "mem_info_vram_used")), 0)),
			TemperatureMillidegrees: int32(readHwmon(card.devicePath, "temp1_input")),
			PowerDrawMicrowatts:     uint64(max(readHwmon(card.devicePath, "power1_average"), readHwmon(card.devicePath, "power1_input"), 0)),
			GraphicsClockMHz:        readActiveClock(filepath.Join(card.devicePath, "pp_dpm_sclk")),
			MemoryClockMHz:          readActiveClock(filepath.Join(card.devicePath, "pp_dpm_mclk")),
		}
		// i915 and xe report the current frequency on the card node
		// rather than the PCI device.
		if sample.GraphicsClockMHz == 0 {
			sample.GraphicsClockMHz = uint32(max(ReadSysfsInt64(filepath.Join(p.sysRoot, "class/drm", card.name, "gt_cur_freq_mhz")), 0))
		}
		samples = append(samples, sample)
	}
	return samples
}
