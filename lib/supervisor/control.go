// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/sysmon/lib/gatherer"
	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// Signal sends a process-control message for pid. It is sent once and
// never retried: a signal that may already have been delivered must not
// be repeated. When the gatherer is not running the request is logged
// and dropped without blocking, and Signal returns nil.
func (s *Supervisor) Signal(ctx context.Context, message ipc.Message, pid int) error {
	if !message.IsControl() {
		return fmt.Errorf("%s is not a control message", message)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%s: %w", message, gatherer.ErrNotStarted)
	}
	if err := s.handle.IsRunning(); err != nil {
		s.logger.Warn("gatherer not running, dropping control request",
			"message", message,
			"pid", pid,
			"error", err,
		)
		return nil
	}

	reply, err := s.handle.Send(ctx, message, int64(pid))
	if err != nil {
		return err
	}
	acknowledgement, ok := reply.Content.(ipc.Acknowledgement)
	if !ok {
		return fmt.Errorf("%w: %s answered with %s", gatherer.ErrProtocol, message, reply.Tag())
	}
	if !acknowledgement.OK {
		return fmt.Errorf("%s pid %d: %w: %s", message, pid, ErrRefused, acknowledgement.Error)
	}
	return nil
}

// TerminateProcess sends SIGTERM.
func (s *Supervisor) TerminateProcess(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageTerminateProcess, pid)
}

// KillProcess sends SIGKILL.
func (s *Supervisor) KillProcess(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageKillProcess, pid)
}

// KillProcessTree sends SIGKILL to every descendant of pid, deepest
// first, and then to pid.
func (s *Supervisor) KillProcessTree(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageKillProcessTree, pid)
}

// SuspendProcess sends SIGSTOP.
func (s *Supervisor) SuspendProcess(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageSuspendProcess, pid)
}

// ContinueProcess sends SIGCONT.
func (s *Supervisor) ContinueProcess(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageContinueProcess, pid)
}

// HangupProcess sends SIGHUP.
func (s *Supervisor) HangupProcess(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageHangupProcess, pid)
}

// InterruptProcess sends SIGINT.
func (s *Supervisor) InterruptProcess(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageInterruptProcess, pid)
}

// UserSignalOne sends SIGUSR1.
func (s *Supervisor) UserSignalOne(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageUserSignalOne, pid)
}

// UserSignalTwo sends SIGUSR2.
func (s *Supervisor) UserSignalTwo(ctx context.Context, pid int) error {
	return s.Signal(ctx, ipc.MessageUserSignalTwo, pid)
}
