// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/sysmon/lib/apps"
	"github.com/bureau-foundation/sysmon/lib/codec"
	"github.com/bureau-foundation/sysmon/lib/config"
	"github.com/bureau-foundation/sysmon/lib/gatherer"
	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/process"
	"github.com/bureau-foundation/sysmon/lib/shm"
)

var (
	// ErrDegraded wraps the failure of an accessor under the restart
	// policy: the gatherer was restarted and the call returned no data.
	ErrDegraded = errors.New("gatherer degraded")

	// ErrChannelInUse is returned by Open when a live supervisor already
	// owns the channel.
	ErrChannelInUse = errors.New("gatherer channel in use")

	// ErrTelemetryDisabled is returned by GPUTelemetry when no board
	// was configured.
	ErrTelemetryDisabled = errors.New("gpu telemetry disabled")

	// ErrRefused is wrapped when the gatherer acknowledges a control
	// request with a failure.
	ErrRefused = errors.New("control request refused")
)

// boardReadTimeout bounds the board read lock.
const boardReadTimeout = 100 * time.Millisecond

// Config assembles a Supervisor around an existing Handle. Open builds
// one from a config file; tests build one by hand.
type Config struct {
	// Handle owns the gatherer. Required. The Supervisor stops it on
	// Close.
	Handle *gatherer.Handle

	// FatalPolicy selects what an exhausted retry budget does. Empty
	// means config.FatalExit.
	FatalPolicy config.FatalPolicy

	// Terminator ends the process under config.FatalExit.
	Terminator process.Terminator

	// Board is the GPU telemetry board, or nil.
	Board *shm.Board

	// OnRestart is called with the new worker pid after the Handle
	// respawned the gatherer.
	OnRestart func(workerPID int)

	// OnClose runs after the gatherer is stopped, to release whatever
	// Open created around the Handle.
	OnClose func() error

	Logger *slog.Logger
}

// Supervisor exposes the gatherer's data through typed accessors. All
// methods are safe for concurrent use and are serialised: one request
// is outstanding at a time.
type Supervisor struct {
	mu        sync.Mutex
	handle    *gatherer.Handle
	policy    config.FatalPolicy
	exit      process.Terminator
	logger    *slog.Logger
	onRestart func(int)
	onClose   func() error
	closed    bool

	// boardMu guards board against Close unmapping it under a reader.
	// GPUTelemetry takes only boardMu so it never waits on a request.
	boardMu     sync.RWMutex
	board       *shm.Board
	boardClosed bool

	// restarts is the Handle's restart count last observed.
	restarts int

	// workerPID is the gatherer pid last observed, whose board lock is
	// reset once it has been replaced.
	workerPID int

	// logicalCPUs is the processor's logical CPU count, or 0 when it
	// has not been read from the current worker.
	logicalCPUs int
}

// New wraps a started Handle.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Handle == nil {
		return nil, fmt.Errorf("supervisor: Handle is required")
	}
	if cfg.FatalPolicy == "" {
		cfg.FatalPolicy = config.FatalExit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Terminator.Logger == nil {
		cfg.Terminator.Logger = logger
	}
	return &Supervisor{
		handle:    cfg.Handle,
		policy:    cfg.FatalPolicy,
		exit:      cfg.Terminator,
		board:     cfg.Board,
		logger:    logger,
		onRestart: cfg.OnRestart,
		onClose:   cfg.OnClose,
		restarts:  cfg.Handle.Restarts(),
		workerPID: cfg.Handle.WorkerPID(),
	}, nil
}

// WorkerPID returns the pid the running gatherer reported, or 0.
func (s *Supervisor) WorkerPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.WorkerPID()
}

// Restarts counts gatherer respawns.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.Restarts()
}

// Close stops the gatherer and releases the endpoint. Further calls
// fail with gatherer.ErrNotStarted.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.boardMu.Lock()
	s.board = nil
	s.boardClosed = true
	s.boardMu.Unlock()
	err := s.handle.Stop()
	if s.onClose != nil {
		err = errors.Join(err, s.onClose())
	}
	return err
}

// execute runs one logical request and applies the fatal policy. The
// caller holds s.mu.
func (s *Supervisor) execute(ctx context.Context, message ipc.Message, onReply func(reply ipc.Reply, restarted bool) bool) error {
	if s.closed {
		return fmt.Errorf("%s: %w", message, gatherer.ErrNotStarted)
	}
	err := s.handle.Execute(ctx, message, 0, onReply)
	s.noteRestarts()
	if err == nil || !errors.Is(err, gatherer.ErrFatal) {
		return err
	}

	switch s.policy {
	case config.FatalRestart:
		s.logger.Error("gatherer unrecoverable, restarting", "message", message, "error", err)
		if restartErr := s.handle.Restart(ctx, "fatal"); restartErr != nil {
			s.logger.Error("restarting gatherer failed", "error", restartErr)
		}
		s.noteRestarts()
		return fmt.Errorf("%w: %w", ErrDegraded, err)
	default:
		s.exit.Terminate("supervisor", err)
		return err
	}
}

// noteRestarts drops state tied to the previous worker and reports the
// new one.
func (s *Supervisor) noteRestarts() {
	restarts := s.handle.Restarts()
	if restarts == s.restarts {
		return
	}
	s.restarts = restarts
	s.logicalCPUs = 0
	s.resetBoardWriter()
	if s.onRestart != nil && s.handle.IsRunning() == nil {
		s.onRestart(s.handle.WorkerPID())
	}
}

// resetBoardWriter releases a board lock the replaced gatherer died
// holding. The caller holds s.mu.
func (s *Supervisor) resetBoardWriter() {
	previous := s.workerPID
	s.workerPID = s.handle.WorkerPID()
	s.boardMu.RLock()
	defer s.boardMu.RUnlock()
	if s.board == nil || previous == 0 {
		return
	}
	if s.board.ResetWriter(previous) {
		s.logger.Warn("released gpu board lock held by replaced gatherer", "worker_pid", previous)
	}
}

// single runs a request answered by one reply of type T.
func single[T ipc.Content](ctx context.Context, s *Supervisor, message ipc.Message) (T, error) {
	var result T
	err := s.execute(ctx, message, func(reply ipc.Reply, restarted bool) bool {
		value, ok := reply.Content.(T)
		if !ok {
			s.logger.Warn("unexpected reply", "message", message, "content", reply.Tag())
			return false
		}
		result = value
		return true
	})
	return result, err
}

// chunks runs a chunked request, accumulating items until a complete
// chunk arrives. The accumulator is cleared whenever the stream
// restarts.
func chunks[C ipc.Chunk, T any](ctx context.Context, s *Supervisor, message ipc.Message, items func(C) []T) ([]T, error) {
	var result []T
	err := s.execute(ctx, message, func(reply ipc.Reply, restarted bool) bool {
		if restarted {
			result = nil
		}
		chunk, ok := reply.Content.(C)
		if !ok {
			s.logger.Warn("unexpected reply", "message", message, "content", reply.Tag())
			return false
		}
		result = append(result, items(chunk)...)
		return chunk.Complete()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CPUStaticInfo describes the processor.
func (s *Supervisor) CPUStaticInfo(ctx context.Context) (ipc.CPUStaticInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cpuStaticInfo(ctx)
}

func (s *Supervisor) cpuStaticInfo(ctx context.Context) (ipc.CPUStaticInfo, error) {
	info, err := single[ipc.CPUStaticInfo](ctx, s, ipc.MessageGetCPUStaticInfo)
	if err != nil {
		return ipc.CPUStaticInfo{}, err
	}
	s.logicalCPUs = int(info.LogicalCPUs)
	return info, nil
}

// CPUDynamicInfo samples processor and memory load.
func (s *Supervisor) CPUDynamicInfo(ctx context.Context) (ipc.CPUDynamicInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return single[ipc.CPUDynamicInfo](ctx, s, ipc.MessageGetCPUDynamicInfo)
}

// LogicalCPUInfo samples every logical CPU. The result always has one
// entry per logical CPU the processor reports: missing entries are
// zero-filled and extras dropped. The count is re-read after the
// gatherer restarts.
func (s *Supervisor) LogicalCPUInfo(ctx context.Context) ([]ipc.LogicalCPU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpus, err := chunks(ctx, s, ipc.MessageGetLogicalCPUInfo, func(chunk ipc.LogicalCPUChunk) []ipc.LogicalCPU {
		return chunk.CPUs
	})
	if err != nil {
		return nil, err
	}
	if s.logicalCPUs == 0 {
		if _, err := s.cpuStaticInfo(ctx); err != nil {
			return nil, err
		}
	}
	count := s.logicalCPUs
	if len(cpus) > count {
		return cpus[:count], nil
	}
	for index := len(cpus); index < count; index++ {
		cpus = append(cpus, ipc.LogicalCPU{Index: uint32(index)})
	}
	return cpus, nil
}

// EnumerateGPUs lists GPUs. No GPUs is an empty result, not an error.
func (s *Supervisor) EnumerateGPUs(ctx context.Context) ([]ipc.GPUDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chunks(ctx, s, ipc.MessageEnumerateGPUs, func(chunk ipc.GPUListChunk) []ipc.GPUDescriptor {
		return chunk.GPUs
	})
}

// GPUStaticInfo reads static GPU properties.
func (s *Supervisor) GPUStaticInfo(ctx context.Context) ([]ipc.GPUStaticInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chunks(ctx, s, ipc.MessageGetGPUStaticInfo, func(chunk ipc.GPUStaticChunk) []ipc.GPUStaticInfo {
		return chunk.GPUs
	})
}

// GPUDynamicInfo samples GPU sensors through the request channel.
func (s *Supervisor) GPUDynamicInfo(ctx context.Context) ([]ipc.GPUDynamicInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chunks(ctx, s, ipc.MessageGetGPUDynamicInfo, func(chunk ipc.GPUDynamicChunk) []ipc.GPUDynamicInfo {
		return chunk.GPUs
	})
}

// Processes returns every process, flat, with ParentPID set and no
// Children.
func (s *Supervisor) Processes(ctx context.Context) ([]ipc.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processes(ctx)
}

func (s *Supervisor) processes(ctx context.Context) ([]ipc.Process, error) {
	return chunks(ctx, s, ipc.MessageGetProcesses, func(chunk ipc.ProcessChunk) []ipc.Process {
		return chunk.Processes
	})
}

// ProcessTree returns the process hierarchy rooted at init.
func (s *Supervisor) ProcessTree(ctx context.Context) (ipc.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	processes, err := s.processes(ctx)
	if err != nil {
		return ipc.Process{}, err
	}
	return apps.BuildTree(processes), nil
}

// InstalledApps lists the launchable desktop applications.
func (s *Supervisor) InstalledApps(ctx context.Context) ([]ipc.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installedApps(ctx)
}

func (s *Supervisor) installedApps(ctx context.Context) ([]ipc.App, error) {
	return chunks(ctx, s, ipc.MessageGetApps, func(chunk ipc.AppChunk) []ipc.App {
		return chunk.Apps
	})
}

// RunningApps returns the installed apps that have at least one
// process, with their PIDs and summed usage.
func (s *Supervisor) RunningApps(ctx context.Context) ([]ipc.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	installed, err := s.installedApps(ctx)
	if err != nil {
		return nil, err
	}
	processes, err := s.processes(ctx)
	if err != nil {
		return nil, err
	}
	root := apps.BuildTree(processes)
	running, overflow := apps.Correlate(&root, installed)
	if overflow > 0 {
		s.logger.Warn("app pid lists truncated", "dropped_pids", overflow, "capacity", ipc.AppPIDCapacity)
	}
	return running, nil
}

// GPUTelemetry reads the latest board snapshot without a round trip
// to the gatherer. ok is false until the first sample is published.
func (s *Supervisor) GPUTelemetry() (telemetry ipc.GPUTelemetry, ok bool, err error) {
	s.boardMu.RLock()
	defer s.boardMu.RUnlock()
	if s.boardClosed {
		return ipc.GPUTelemetry{}, false, fmt.Errorf("gpu telemetry: %w", gatherer.ErrNotStarted)
	}
	if s.board == nil {
		return ipc.GPUTelemetry{}, false, ErrTelemetryDisabled
	}
	sequence, payload, err := s.board.Snapshot(boardReadTimeout)
	if err != nil {
		return ipc.GPUTelemetry{}, false, fmt.Errorf("reading gpu board: %w", err)
	}
	if sequence == 0 {
		return ipc.GPUTelemetry{}, false, nil
	}
	if err := codec.Unmarshal(payload, &telemetry); err != nil {
		return ipc.GPUTelemetry{}, false, fmt.Errorf("decoding gpu board: %w", err)
	}
	return telemetry, true, nil
}
