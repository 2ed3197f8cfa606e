// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// processSample is the cumulative counters of one process at one
// instant, kept between scans to turn counters into rates.
type processSample struct {
	createTime int64
	cpuSeconds float64
	diskBytes  uint64
}

// processState maps gopsutil's status names onto the single-letter
// codes of /proc/<pid>/stat.
func processState(status []string) byte {
	if len(status) == 0 {
		return '?'
	}
	switch status[0] {
	case process.Running:
		return 'R'
	case process.Sleep:
		return 'S'
	case process.Blocked:
		return 'D'
	case process.Stop:
		return 'T'
	case process.Zombie:
		return 'Z'
	case process.Idle:
		return 'I'
	case process.Wait:
		return 'W'
	case process.Lock:
		return 'L'
	}
	return '?'
}

// Processes returns every process on the system, flat, with ParentPID
// set. CPU and disk usage are rates over the interval since the
// previous call; the first call reports zero for both. Processes that
// exit mid-scan are skipped.
func (s *System) Processes(ctx context.Context) ([]ipc.Process, error) {
	handles, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	elapsed := now.Sub(s.previousScan).Seconds()
	if s.previousScan.IsZero() {
		elapsed = 0
	}
	samples := make(map[int32]processSample, len(handles))

	processes := make([]ipc.Process, 0, len(handles))
	skipped := 0
	for _, handle := range handles {
		entry, sample, err := readProcess(ctx, handle)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			skipped++
			continue
		}
		samples[handle.Pid] = sample

		if previous, ok := s.previousSamples[handle.Pid]; ok && elapsed > 0 && previous.createTime == sample.createTime {
			entry.Usage.CPU = float32((sample.cpuSeconds - previous.cpuSeconds) / elapsed * 100)
			if sample.diskBytes >= previous.diskBytes {
				entry.Usage.Disk = float32(float64(sample.diskBytes-previous.diskBytes) / elapsed)
			}
		}
		processes = append(processes, entry)
	}

	s.previousSamples = samples
	s.previousScan = now
	s.logger.Debug("process scan", "processes", len(processes), "skipped", skipped)
	return processes, nil
}

func readProcess(ctx context.Context, handle *process.Process) (ipc.Process, processSample, error) {
	name, err := handle.NameWithContext(ctx)
	if err != nil {
		return ipc.Process{}, processSample{}, err
	}
	parent, err := handle.PpidWithContext(ctx)
	if err != nil {
		return ipc.Process{}, processSample{}, err
	}
	entry := ipc.Process{
		Name:      name,
		PID:       uint32(handle.Pid),
		ParentPID: uint32(max(parent, 0)),
	}

	// Kernel threads have no command line or executable and other
	// users' processes may deny exe; both are normal, not failures.
	entry.Cmd, _ = handle.CmdlineSliceWithContext(ctx)
	entry.Exe, _ = handle.ExeWithContext(ctx)
	status, _ := handle.StatusWithContext(ctx)
	entry.State = processState(status)

	var sample processSample
	sample.createTime, _ = handle.CreateTimeWithContext(ctx)
	if times, err := handle.TimesWithContext(ctx); err == nil {
		sample.cpuSeconds = times.User + times.System
	}
	if memory, err := handle.MemoryInfoWithContext(ctx); err == nil {
		entry.Usage.Memory = float32(memory.RSS)
	}
	if counters, err := handle.IOCountersWithContext(ctx); err == nil {
		sample.diskBytes = counters.ReadBytes + counters.WriteBytes
	}
	return entry, sample, nil
}

// now is indirect so tests can pin the scan interval.
func (s *System) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}
