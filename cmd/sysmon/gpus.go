// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/cmd/sysmon/cli"
	"github.com/bureau-foundation/sysmon/lib/config"
	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/supervisor"
)

// gpuReport joins the three GPU views on the PCI slot id.
type gpuReport struct {
	Descriptor ipc.GPUDescriptor  `json:"descriptor"`
	Static     ipc.GPUStaticInfo  `json:"static"`
	Dynamic    ipc.GPUDynamicInfo `json:"dynamic"`
}

func gpusCommand() *cli.Command {
	var (
		session   session
		output    cli.JSONOutput
		telemetry bool
	)
	return &cli.Command{
		Name:    "gpus",
		Summary: "List GPUs with their current load",
		Description: "List GPUs with their current load.\n\n" +
			"With --telemetry the dynamic sample is read from the gatherer's\n" +
			"shared telemetry board instead of a request round trip.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("gpus", pflag.ContinueOnError)
			session.addFlags(flags)
			output.AddFlag(flags)
			flags.BoolVar(&telemetry, "telemetry", false, "read samples from the telemetry board")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			var interval time.Duration
			monitor, err := session.open(ctx, nil, func(cfg *config.Config) {
				if telemetry {
					cfg.GPUTelemetry.Enabled = true
				}
				interval = cfg.GPUTelemetry.Interval
			})
			if err != nil {
				return err
			}
			defer monitor.Close()

			descriptors, err := monitor.EnumerateGPUs(ctx)
			if err != nil {
				return err
			}
			static, err := monitor.GPUStaticInfo(ctx)
			if err != nil {
				return err
			}
			var dynamic []ipc.GPUDynamicInfo
			if telemetry {
				dynamic, err = awaitTelemetry(ctx, monitor, 2*interval+time.Second)
			} else {
				dynamic, err = monitor.GPUDynamicInfo(ctx)
			}
			if err != nil {
				return err
			}

			reports := joinGPUs(descriptors, static, dynamic)
			if done, err := output.EmitJSON(reports); done {
				return err
			}
			if len(reports) == 0 {
				fmt.Println("no GPUs found")
				return nil
			}
			return writeGPUTable(os.Stdout, reports)
		},
	}
}

// awaitTelemetry polls the board until the first sample lands.
func awaitTelemetry(ctx context.Context, monitor *supervisor.Supervisor, wait time.Duration) ([]ipc.GPUDynamicInfo, error) {
	deadline := time.Now().Add(wait)
	for {
		sample, ok, err := monitor.GPUTelemetry()
		if err != nil {
			return nil, err
		}
		if ok {
			return sample.GPUs, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no gpu telemetry published within %s", wait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func joinGPUs(descriptors []ipc.GPUDescriptor, static []ipc.GPUStaticInfo, dynamic []ipc.GPUDynamicInfo) []gpuReport {
	staticByID := make(map[string]ipc.GPUStaticInfo, len(static))
	for _, info := range static {
		staticByID[info.ID] = info
	}
	dynamicByID := make(map[string]ipc.GPUDynamicInfo, len(dynamic))
	for _, info := range dynamic {
		dynamicByID[info.ID] = info
	}
	reports := make([]gpuReport, 0, len(descriptors))
	for _, descriptor := range descriptors {
		reports = append(reports, gpuReport{
			Descriptor: descriptor,
			Static:     staticByID[descriptor.ID],
			Dynamic:    dynamicByID[descriptor.ID],
		})
	}
	return reports
}

func writeGPUTable(w io.Writer, reports []gpuReport) error {
	table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(table, "ID\tVENDOR\tDRIVER\tUTIL%%\tVRAM\tTEMP\n")
	for _, report := range reports {
		temperature := "-"
		if millidegrees := report.Dynamic.TemperatureMillidegrees; millidegrees != 0 {
			temperature = fmt.Sprintf("%.0f°C", float64(millidegrees)/1000)
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%.0f\t%s / %s\t%s\n",
			report.Descriptor.ID, report.Descriptor.Vendor, report.Descriptor.Driver,
			report.Dynamic.UtilizationPercent,
			formatBytes(float64(report.Dynamic.VRAMUsedBytes)),
			formatBytes(float64(report.Static.VRAMTotalBytes)),
			temperature)
	}
	return table.Flush()
}
