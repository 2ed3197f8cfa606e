// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/cmd/sysmon/cli"
	"github.com/bureau-foundation/sysmon/lib/ipc"
)

type cpuReport struct {
	Static  ipc.CPUStaticInfo  `json:"static"`
	Dynamic ipc.CPUDynamicInfo `json:"dynamic"`
	Cores   []ipc.LogicalCPU   `json:"cores,omitempty"`
}

func cpuCommand() *cli.Command {
	var (
		session session
		output  cli.JSONOutput
		cores   bool
	)
	return &cli.Command{
		Name:    "cpu",
		Summary: "Show processor and memory load",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("cpu", pflag.ContinueOnError)
			session.addFlags(flags)
			output.AddFlag(flags)
			flags.BoolVar(&cores, "cores", false, "include per-core utilization")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			monitor, err := session.open(ctx, nil, nil)
			if err != nil {
				return err
			}
			defer monitor.Close()

			var report cpuReport
			if report.Static, err = monitor.CPUStaticInfo(ctx); err != nil {
				return err
			}
			if report.Dynamic, err = monitor.CPUDynamicInfo(ctx); err != nil {
				return err
			}
			if cores {
				if report.Cores, err = monitor.LogicalCPUInfo(ctx); err != nil {
					return err
				}
			}
			if done, err := output.EmitJSON(report); done {
				return err
			}
			writeCPUReport(os.Stdout, report)
			return nil
		},
	}
}

func writeCPUReport(w io.Writer, report cpuReport) {
	static, dynamic := report.Static, report.Dynamic
	fmt.Fprintf(w, "%s (%s)\n", static.Name, static.Vendor)
	fmt.Fprintf(w, "  %d logical CPUs, %d cores, %d sockets, max %.0f MHz\n",
		static.LogicalCPUs, static.PhysicalCores, static.Sockets, static.MaxFrequencyMHz)
	fmt.Fprintf(w, "  utilization %.1f%% at %.0f MHz\n", dynamic.Utilization, dynamic.FrequencyMHz)
	fmt.Fprintf(w, "  load %.2f %.2f %.2f, %d processes, %d threads\n",
		dynamic.LoadAverage[0], dynamic.LoadAverage[1], dynamic.LoadAverage[2],
		dynamic.ProcessCount, dynamic.ThreadCount)
	fmt.Fprintf(w, "  memory %s of %s\n",
		formatBytes(float64(dynamic.MemoryUsed)), formatBytes(float64(dynamic.MemoryTotal)))
	for _, core := range report.Cores {
		fmt.Fprintf(w, "  cpu%-3d %5.1f%% %6.0f MHz\n", core.Index, core.Utilization, core.FrequencyMHz)
	}
}
