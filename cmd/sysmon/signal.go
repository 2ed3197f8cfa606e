// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/cmd/sysmon/cli"
	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// signalKinds names the control messages on the command line.
var signalKinds = map[string]ipc.Message{
	"term":      ipc.MessageTerminateProcess,
	"kill":      ipc.MessageKillProcess,
	"kill-tree": ipc.MessageKillProcessTree,
	"stop":      ipc.MessageSuspendProcess,
	"cont":      ipc.MessageContinueProcess,
	"hup":       ipc.MessageHangupProcess,
	"int":       ipc.MessageInterruptProcess,
	"usr1":      ipc.MessageUserSignalOne,
	"usr2":      ipc.MessageUserSignalTwo,
}

func signalKindNames() string {
	names := make([]string, 0, len(signalKinds))
	for name := range signalKinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

// parseSignalArgs reads "<kind> <pid>".
func parseSignalArgs(args []string) (ipc.Message, int, error) {
	if len(args) != 2 {
		return ipc.MessageUnknown, 0, fmt.Errorf("usage: sysmon signal <kind> <pid> (kinds: %s)", signalKindNames())
	}
	message, ok := signalKinds[args[0]]
	if !ok {
		return ipc.MessageUnknown, 0, fmt.Errorf("unknown signal kind %q (kinds: %s)", args[0], signalKindNames())
	}
	pid, err := strconv.Atoi(args[1])
	if err != nil || pid <= 0 {
		return ipc.MessageUnknown, 0, fmt.Errorf("invalid pid %q", args[1])
	}
	return message, pid, nil
}

func signalCommand() *cli.Command {
	var session session
	return &cli.Command{
		Name:    "signal",
		Summary: "Send a signal to a process through the gatherer",
		Usage:   "sysmon signal <kind> <pid> [flags]",
		Examples: []cli.Example{
			{Description: "Pause a process", Command: "sysmon signal stop 4321"},
			{Description: "Kill a process and all of its descendants", Command: "sysmon signal kill-tree 4321"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("signal", pflag.ContinueOnError)
			session.addFlags(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			message, pid, err := parseSignalArgs(args)
			if err != nil {
				return err
			}
			monitor, err := session.open(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer monitor.Close()
			return monitor.Signal(ctx, message, pid)
		},
	}
}
