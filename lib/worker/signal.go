// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sysmon/lib/apps"
	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// controlSignals maps each control message to the signal it delivers.
var controlSignals = map[ipc.Message]unix.Signal{
	ipc.MessageTerminateProcess: unix.SIGTERM,
	ipc.MessageKillProcess:      unix.SIGKILL,
	ipc.MessageKillProcessTree:  unix.SIGKILL,
	ipc.MessageSuspendProcess:   unix.SIGSTOP,
	ipc.MessageContinueProcess:  unix.SIGCONT,
	ipc.MessageHangupProcess:    unix.SIGHUP,
	ipc.MessageInterruptProcess: unix.SIGINT,
	ipc.MessageUserSignalOne:    unix.SIGUSR1,
	ipc.MessageUserSignalTwo:    unix.SIGUSR2,
}

// SignalFor returns the signal a control message delivers.
func SignalFor(message ipc.Message) (unix.Signal, bool) {
	signal, ok := controlSignals[message]
	return signal, ok
}

// control delivers the signal for message to pid. Pids that would
// address a process group or init are refused. Kill-tree signals every
// descendant deepest first, then pid itself; descendants that exit on
// their own in the meantime are not errors.
func (s *Server) control(ctx context.Context, message ipc.Message, argument int64) error {
	signal, ok := SignalFor(message)
	if !ok {
		return fmt.Errorf("%s is not a control message", message)
	}
	if argument <= apps.InitPID || argument > math.MaxInt32 {
		return fmt.Errorf("refusing to signal pid %d", argument)
	}
	pid := int(argument)

	if message == ipc.MessageKillProcessTree {
		descendants, err := s.descendants(ctx, uint32(pid))
		if err != nil {
			return err
		}
		for _, child := range descendants {
			if err := s.kill(int(child), signal); err != nil && !errors.Is(err, unix.ESRCH) {
				s.logger.Warn("signalling descendant failed", "pid", child, "root", pid, "error", err)
			}
		}
	}

	if err := s.kill(pid, signal); err != nil {
		return fmt.Errorf("sending %s to pid %d: %w", unix.SignalName(signal), pid, err)
	}
	s.logger.Info("signalled process", "pid", pid, "signal", unix.SignalName(signal))
	return nil
}

// descendants lists the processes below pid in post-order, so that
// every child precedes its parent.
func (s *Server) descendants(ctx context.Context, pid uint32) ([]uint32, error) {
	processes, err := s.collector.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	root := apps.BuildTree(processes)
	target := apps.Find(&root, pid)
	if target == nil {
		return nil, nil
	}
	var order []uint32
	var visit func(node *ipc.Process)
	visit = func(node *ipc.Process) {
		for index := range node.Children {
			child := &node.Children[index]
			visit(child)
			order = append(order, child.PID)
		}
	}
	visit(target)
	return order, nil
}
