// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sysmon/lib/config"
	"github.com/bureau-foundation/sysmon/lib/gatherer"
	"github.com/bureau-foundation/sysmon/lib/process"
	"github.com/bureau-foundation/sysmon/lib/shm"
	"github.com/bureau-foundation/sysmon/lib/watchdog"
	"github.com/bureau-foundation/sysmon/lib/wire"
	"github.com/bureau-foundation/sysmon/sandbox"
)

// Component names the supervisor in its state file.
const Component = "sysmon"

// Options are the collaborators Open does not read from the config
// file. The zero value selects the real machine.
type Options struct {
	// Environment describes where the supervisor runs. Nil means
	// gatherer.DetectEnvironment.
	Environment *gatherer.Environment

	// Launcher spawns gatherers. Nil means gatherer.ExecLauncher.
	Launcher gatherer.Launcher

	// Runner probes the gatherer's libc variant inside Flatpak.
	Runner sandbox.Runner

	// Registerer receives the gatherer metrics. Nil disables them.
	Registerer prometheus.Registerer

	// Terminator ends the process under the exit fatal policy.
	Terminator process.Terminator

	Logger *slog.Logger
}

// Open recovers from any previous unclean exit, creates the endpoint
// named by cfg, starts a gatherer, and records this incarnation in the
// endpoint's state file.
func Open(ctx context.Context, cfg *config.Config, options Options) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	environment := options.Environment
	if environment == nil {
		detected, err := gatherer.DetectEnvironment(cfg.AppID)
		if err != nil {
			return nil, fmt.Errorf("detecting environment: %w", err)
		}
		environment = detected
	}
	if err := os.MkdirAll(environment.EndpointDirectory(), 0o700); err != nil {
		return nil, fmt.Errorf("creating endpoint directory: %w", err)
	}
	endpoint := environment.EndpointPath(cfg.ChannelName)
	statePath := endpoint + ".state"
	if err := recoverPrevious(statePath, logger); err != nil {
		return nil, err
	}

	command, err := environment.ResolveCommand(ctx, cfg.Gatherer.Path, cfg.Gatherer.HostDirectory, options.Runner, logger)
	if err != nil {
		return nil, fmt.Errorf("resolving gatherer: %w", err)
	}
	compression, err := wire.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var cleanup []func() error
	release := func() error {
		var errs []error
		for index := len(cleanup) - 1; index >= 0; index-- {
			errs = append(errs, cleanup[index]())
		}
		return errors.Join(errs...)
	}

	var (
		transport         gatherer.Transport
		transportEndpoint string
	)
	switch cfg.Transport {
	case config.Socket:
		transportEndpoint = endpoint + ".sock"
		transport, err = gatherer.NewSocketTransport(transportEndpoint, compression)
	default:
		// No live supervisor owns the channel, so anything behind the
		// link is left over from a crash.
		transportEndpoint = endpoint
		transport, err = gatherer.NewSharedMemoryTransport(ctx, endpoint, environment.BackingDirectory(), true)
	}
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, transport.Close)

	var (
		board     *shm.Board
		extraArgs []string
	)
	if cfg.GPUTelemetry.Enabled {
		boardPath := endpoint + ".gpu"
		board, err = shm.CreateOrOpenBoard(ctx, boardPath, true, shm.WithBackingDirectory(environment.BackingDirectory()))
		if err != nil {
			release()
			return nil, fmt.Errorf("creating gpu board: %w", err)
		}
		cleanup = append(cleanup, board.Remove)
		extraArgs = []string{"--board", boardPath, "--board-interval", cfg.GPUTelemetry.Interval.String()}
	}

	var metrics *gatherer.Metrics
	if options.Registerer != nil {
		if metrics, err = gatherer.NewMetrics(options.Registerer); err != nil {
			release()
			return nil, fmt.Errorf("registering gatherer metrics: %w", err)
		}
	}

	launcher := options.Launcher
	if launcher == nil {
		launcher = gatherer.ExecLauncher{Logger: logger}
	}
	handle, err := gatherer.New(gatherer.Config{
		Command:      command,
		ExtraArgs:    extraArgs,
		Transport:    transport,
		Launcher:     launcher,
		Attempts:     cfg.Retry.Attempts,
		ReplyTimeout: cfg.Retry.ReplyTimeout,
		ReadyTimeout: cfg.Retry.ReadyTimeout,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		release()
		return nil, err
	}
	if err := handle.Start(ctx); err != nil {
		release()
		return nil, err
	}

	state, err := watchdog.Current(Component, string(cfg.Transport), transportEndpoint)
	if err != nil {
		handle.Stop()
		release()
		return nil, err
	}
	record := func(workerPID int) {
		if err := state.RecordGatherer(workerPID); err != nil {
			// Expected across a Flatpak pid namespace.
			logger.Debug("gatherer not visible for state", "worker_pid", workerPID, "error", err)
		}
		if err := watchdog.Write(statePath, state); err != nil {
			logger.Warn("writing supervisor state failed", "path", statePath, "error", err)
		}
	}
	record(handle.WorkerPID())
	cleanup = append(cleanup, func() error { return watchdog.Clear(statePath) })

	return New(Config{
		Handle:      handle,
		FatalPolicy: cfg.FatalPolicy,
		Terminator:  options.Terminator,
		Board:       board,
		OnRestart:   record,
		OnClose:     release,
		Logger:      logger,
	})
}

// recoverPrevious inspects the state an earlier incarnation left at
// statePath. A live owner is ErrChannelInUse. A dead owner's gatherer,
// if still running, is killed, and the state is discarded.
func recoverPrevious(statePath string, logger *slog.Logger) error {
	previous, found, err := watchdog.Previous(statePath)
	if err != nil {
		logger.Warn("discarding unreadable supervisor state", "path", statePath, "error", err)
		return watchdog.Clear(statePath)
	}
	if !found {
		return nil
	}
	if previous.SupervisorAlive() {
		return fmt.Errorf("%w: owned by pid %d (%s %s)", ErrChannelInUse, previous.SupervisorPID, previous.Transport, previous.Endpoint)
	}

	logger.Warn("previous supervisor exited uncleanly",
		"pid", previous.SupervisorPID,
		"endpoint", previous.Endpoint,
	)
	if previous.GathererAlive() {
		if err := unix.Kill(int(previous.GathererPID), unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("killing orphaned gatherer pid %d: %w", previous.GathererPID, err)
		}
		logger.Info("killed orphaned gatherer", "pid", previous.GathererPID)
	}
	return watchdog.Clear(statePath)
}
