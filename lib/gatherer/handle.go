// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/wire"
)

// Defaults for Config fields left zero.
const (
	DefaultAttempts     = 3
	DefaultReplyTimeout = 500 * time.Millisecond
	DefaultReadyTimeout = 5 * time.Second

	// DefaultMaxChunks stops a worker that never completes a stream.
	// A thousand-process host needs sixteen process chunks.
	DefaultMaxChunks = 4096

	// exitGrace is how long Stop waits for an acknowledged Exit before
	// killing the worker.
	exitGrace = time.Second
)

// Config configures a Handle.
type Config struct {
	// Command starts the gatherer. Transport arguments and ExtraArgs
	// are appended. Required.
	Command []string

	// ExtraArgs follow the transport arguments on the command line.
	ExtraArgs []string

	// Transport connects to each spawned worker. Required. The Handle
	// does not close it; the creator does.
	Transport Transport

	// Launcher spawns the worker. Required.
	Launcher Launcher

	// Attempts is the retry budget of one Execute call.
	Attempts int

	// ReplyTimeout bounds each wait for a reply.
	ReplyTimeout time.Duration

	// ReadyTimeout bounds the wait for a spawned worker to attach.
	ReadyTimeout time.Duration

	// MaxChunks bounds the replies of one chunked stream.
	MaxChunks int

	Metrics *Metrics
	Logger  *slog.Logger
}

// Handle owns one gatherer worker at a time. A Handle is not safe for
// concurrent use; the Supervisor serialises every call.
type Handle struct {
	config    Config
	logger    *slog.Logger
	process   Process
	workerPID int
	restarts  int
}

// New validates config and returns a Handle with no worker running.
func New(config Config) (*Handle, error) {
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("gatherer handle: Command is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("gatherer handle: Transport is required")
	}
	if config.Launcher == nil {
		return nil, fmt.Errorf("gatherer handle: Launcher is required")
	}
	if config.Attempts <= 0 {
		config.Attempts = DefaultAttempts
	}
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = DefaultReplyTimeout
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = DefaultReadyTimeout
	}
	if config.MaxChunks <= 0 {
		config.MaxChunks = DefaultMaxChunks
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handle{config: config, logger: logger}, nil
}

// Start spawns a worker and blocks until it is attached and ready, the
// worker exits, or ReadyTimeout passes. A worker that does not become
// ready is killed.
func (h *Handle) Start(ctx context.Context) error {
	if h.process != nil {
		return fmt.Errorf("gatherer already running (pid %d)", h.process.PID())
	}

	h.config.Transport.Reset()
	argv := slices.Concat(h.config.Command, h.config.Transport.WorkerArgs(), h.config.ExtraArgs)
	process, err := h.config.Launcher.Launch(argv)
	if err != nil {
		return err
	}

	readyCtx, cancel := context.WithTimeout(ctx, h.config.ReadyTimeout)
	defer cancel()
	workerPID, err := h.config.Transport.Accept(readyCtx, process.Done())
	if err != nil {
		process.Kill()
		<-process.Done()
		return fmt.Errorf("gatherer pid %d did not become ready: %w", process.PID(), err)
	}

	h.process = process
	h.workerPID = workerPID
	h.logger.Info("gatherer started",
		"pid", process.PID(),
		"worker_pid", workerPID,
		"command", argv[0],
	)
	return nil
}

// Stop asks the worker to exit, kills it if it does not within a short
// grace period, and waits until it has been reaped.
func (h *Handle) Stop() error {
	if h.process == nil {
		return nil
	}
	if h.IsRunning() == nil {
		if _, _, err := h.config.Transport.Exchange(ipc.Request{Message: ipc.MessageExit}, h.config.ReplyTimeout); err != nil {
			h.logger.Debug("gatherer did not acknowledge exit", "error", err)
		}
	}
	return h.reap(exitGrace)
}

// Restart kills the current worker without asking and starts a new
// one. reason labels the restart in logs and metrics.
func (h *Handle) Restart(ctx context.Context, reason string) error {
	if h.process != nil {
		if err := h.reap(0); err != nil {
			return err
		}
	}
	h.restarts++
	h.config.Metrics.observeRestart(reason)
	h.logger.Warn("restarting gatherer", "reason", reason, "restarts", h.restarts)
	return h.Start(ctx)
}

// reap waits up to grace for the worker to exit, kills it otherwise,
// and waits for the reaper.
func (h *Handle) reap(grace time.Duration) error {
	process := h.process
	h.process = nil
	h.workerPID = 0
	defer h.config.Transport.Reset()

	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-process.Done():
			return nil
		case <-timer.C:
		}
	}
	if err := process.Kill(); err != nil {
		return fmt.Errorf("killing gatherer pid %d: %w", process.PID(), err)
	}
	<-process.Done()
	return nil
}

// IsRunning returns nil while the worker is alive, an *ExitError once
// it has exited, and ErrNotStarted when there is no worker.
func (h *Handle) IsRunning() error {
	if h.process == nil {
		return ErrNotStarted
	}
	select {
	case <-h.process.Done():
		return &ExitError{PID: h.process.PID(), Code: h.process.ExitCode()}
	default:
		return nil
	}
}

// PID returns the spawned process's pid, or 0.
func (h *Handle) PID() int {
	if h.process == nil {
		return 0
	}
	return h.process.PID()
}

// WorkerPID returns the pid the worker reported when it attached. It
// differs from PID when the worker was spawned through a wrapper such
// as flatpak-spawn.
func (h *Handle) WorkerPID() int { return h.workerPID }

// Restarts counts respawns since the Handle was created.
func (h *Handle) Restarts() int { return h.restarts }

// Execute sends message until onReply reports the logical response
// complete.
//
// onReply is called with every decoded reply. Returning true ends the
// call successfully. Returning false for a reply whose content matches
// the message asks for the next chunk; returning false for any other
// reply counts as a failed attempt. restarted is true when the stream
// was restarted since the previous call, either because the worker was
// respawned or because an earlier attempt failed; the callback must
// then discard anything accumulated so far.
//
// Each failed attempt consumes the retry budget. A crashed or
// disconnected worker is respawned before the next attempt; a timeout
// on the second-to-last attempt also respawns it, since a worker that
// stops answering cannot be resynchronised. When the budget runs out
// Execute returns a *FatalError.
func (h *Handle) Execute(ctx context.Context, message ipc.Message, argument int64, onReply func(reply ipc.Reply, restarted bool) bool) error {
	expected := message.ExpectedContent()
	if expected == ipc.ContentNone {
		return fmt.Errorf("%s expects no reply", message)
	}
	started := time.Now()

	var (
		failures  []error
		restarted bool
		reset     = true
		chunks    int
	)
	for len(failures) < h.config.Attempts {
		if err := ctx.Err(); err != nil {
			h.config.Metrics.observeRequest(message, "canceled", time.Since(started))
			return fmt.Errorf("%s: %w", message, err)
		}

		if err := h.IsRunning(); err != nil {
			h.logger.Error("gatherer not running", "message", message, "error", err)
			restarted, reset, chunks = true, true, 0
			if err := h.Restart(ctx, "crash"); err != nil {
				failures = append(failures, fmt.Errorf("respawning: %w", err))
				continue
			}
		}

		request := ipc.Request{Message: message, Argument: argument}
		if reset {
			request.Flags |= ipc.FlagStreamReset
			reset = false
		}

		reply, err := h.exchange(request)
		if err == nil {
			if onReply(reply, restarted) {
				h.config.Metrics.observeRequest(message, "ok", time.Since(started))
				return nil
			}
			restarted = false
			if reply.Tag() == expected {
				chunks++
				if chunks <= h.config.MaxChunks {
					continue
				}
				err = fmt.Errorf("%w: %s stream exceeded %d chunks", ErrProtocol, message, h.config.MaxChunks)
			} else {
				err = fmt.Errorf("%w: %s answered with %s, want %s", ErrProtocol, message, reply.Tag(), expected)
			}
		}

		failures = append(failures, err)
		attempt := len(failures)
		h.config.Metrics.observeFailure(message, err)
		h.logger.Warn("gatherer request failed",
			"message", message,
			"attempt", attempt,
			"attempts", h.config.Attempts,
			"error", err,
		)
		restarted, reset, chunks = true, true, 0
		if attempt >= h.config.Attempts {
			break
		}

		reason := ""
		switch {
		case errors.Is(err, ErrWorkerDisconnected):
			reason = "disconnect"
		case errors.Is(err, ErrTimeout) && attempt == h.config.Attempts-1:
			reason = "unresponsive"
		}
		if reason != "" {
			if err := h.Restart(ctx, reason); err != nil {
				h.logger.Error("respawning gatherer failed", "reason", reason, "error", err)
			}
		}
	}

	h.config.Metrics.observeRequest(message, "fatal", time.Since(started))
	return &FatalError{Message: message.String(), Errors: failures}
}

// Send performs one exchange with no retry and no respawn, for control
// messages whose effect must not be repeated. The caller checks the
// reply's tag.
func (h *Handle) Send(ctx context.Context, message ipc.Message, argument int64) (ipc.Reply, error) {
	if err := ctx.Err(); err != nil {
		return ipc.Reply{}, err
	}
	if err := h.IsRunning(); err != nil {
		return ipc.Reply{}, err
	}
	started := time.Now()
	reply, err := h.exchange(ipc.Request{Message: message, Flags: ipc.FlagStreamReset, Argument: argument})
	if err != nil {
		h.config.Metrics.observeFailure(message, err)
		h.config.Metrics.observeRequest(message, "failed", time.Since(started))
		return ipc.Reply{}, fmt.Errorf("%s: %w", message, err)
	}
	h.config.Metrics.observeRequest(message, "ok", time.Since(started))
	return reply, nil
}

// exchange runs one transport round trip and decodes the payload.
func (h *Handle) exchange(request ipc.Request) (ipc.Reply, error) {
	tag, payload, err := h.config.Transport.Exchange(request, h.config.ReplyTimeout)
	if err != nil {
		return ipc.Reply{}, err
	}
	content, err := wire.DecodeContent(tag, payload)
	if err != nil {
		return ipc.Reply{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return ipc.Reply{Content: content}, nil
}
