// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/cmd/sysmon/cli"
	"github.com/bureau-foundation/sysmon/lib/ipc"
)

var processSorts = map[string]func(a, b ipc.Process) int{
	"pid":    func(a, b ipc.Process) int { return cmp.Compare(a.PID, b.PID) },
	"name":   func(a, b ipc.Process) int { return strings.Compare(a.Name, b.Name) },
	"cpu":    func(a, b ipc.Process) int { return cmp.Compare(b.Usage.CPU, a.Usage.CPU) },
	"memory": func(a, b ipc.Process) int { return cmp.Compare(b.Usage.Memory, a.Usage.Memory) },
	"disk":   func(a, b ipc.Process) int { return cmp.Compare(b.Usage.Disk, a.Usage.Disk) },
}

func processesCommand() *cli.Command {
	var (
		session session
		output  cli.JSONOutput
		sortBy  string
		limit   int
	)
	return &cli.Command{
		Name:    "processes",
		Summary: "List running processes",
		Examples: []cli.Example{
			{Description: "Top ten processes by CPU", Command: "sysmon processes --sort cpu --limit 10"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("processes", pflag.ContinueOnError)
			session.addFlags(flags)
			output.AddFlag(flags)
			flags.StringVar(&sortBy, "sort", "pid", "sort order: pid, name, cpu, memory, disk")
			flags.IntVar(&limit, "limit", 0, "show at most this many processes (0 for all)")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			compare, ok := processSorts[sortBy]
			if !ok {
				return fmt.Errorf("unknown sort %q", sortBy)
			}
			monitor, err := session.open(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer monitor.Close()

			processes, err := monitor.Processes(ctx)
			if err != nil {
				return err
			}
			slices.SortStableFunc(processes, compare)
			if limit > 0 && len(processes) > limit {
				processes = processes[:limit]
			}
			if done, err := output.EmitJSON(processes); done {
				return err
			}
			return writeProcessTable(os.Stdout, processes)
		},
	}
}

func writeProcessTable(w io.Writer, processes []ipc.Process) error {
	table := tabwriter.NewWriter(w, 2, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(table, "PID\tPPID\tCPU%%\tMEMORY\tDISK/s\t NAME\n")
	for _, process := range processes {
		fmt.Fprintf(table, "%d\t%d\t%.1f\t%s\t%s\t %s\n",
			process.PID, process.ParentPID, process.Usage.CPU,
			formatBytes(float64(process.Usage.Memory)),
			formatBytes(float64(process.Usage.Disk)),
			process.Name)
	}
	return table.Flush()
}

func treeCommand() *cli.Command {
	var (
		session session
		output  cli.JSONOutput
	)
	return &cli.Command{
		Name:    "tree",
		Summary: "Show the process hierarchy",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("tree", pflag.ContinueOnError)
			session.addFlags(flags)
			output.AddFlag(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			monitor, err := session.open(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer monitor.Close()

			tree, err := monitor.ProcessTree(ctx)
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(tree); done {
				return err
			}
			writeTree(os.Stdout, tree, "")
			return nil
		},
	}
}

func writeTree(w io.Writer, node ipc.Process, indent string) {
	fmt.Fprintf(w, "%s%d %s\n", indent, node.PID, node.Name)
	for _, child := range node.Children {
		writeTree(w, child, indent+"  ")
	}
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(value float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	unit := 0
	for value >= 1024 && unit < len(units)-1 {
		value /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%.0f %s", value, units[unit])
	}
	return fmt.Sprintf("%.1f %s", value, units[unit])
}
