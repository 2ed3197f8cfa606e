// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/cmd/sysmon/cli"
	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/supervisor"
)

func appsCommand() *cli.Command {
	return &cli.Command{
		Name:    "apps",
		Summary: "List installed or running applications",
		Subcommands: []*cli.Command{
			appsListCommand("installed", "List launchable desktop applications",
				(*supervisor.Supervisor).InstalledApps, false),
			appsListCommand("running", "List applications with running processes",
				(*supervisor.Supervisor).RunningApps, true),
		},
	}
}

func appsListCommand(name, summary string, list func(*supervisor.Supervisor, context.Context) ([]ipc.App, error), withUsage bool) *cli.Command {
	var (
		session session
		output  cli.JSONOutput
	)
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
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

			apps, err := list(monitor, ctx)
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(apps); done {
				return err
			}
			return writeAppTable(os.Stdout, apps, withUsage)
		},
	}
}

func writeAppTable(w io.Writer, apps []ipc.App, withUsage bool) error {
	table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	if withUsage {
		fmt.Fprintf(table, "ID\tNAME\tPROCESSES\tCPU%%\tMEMORY\n")
		for _, app := range apps {
			fmt.Fprintf(table, "%s\t%s\t%d\t%.1f\t%s\n",
				app.ID, app.Name, len(app.PIDs), app.Usage.CPU, formatBytes(float64(app.Usage.Memory)))
		}
	} else {
		fmt.Fprintf(table, "ID\tNAME\tEXEC\n")
		for _, app := range apps {
			fmt.Fprintf(table, "%s\t%s\t%s\n", app.ID, app.Name, app.Exec)
		}
	}
	return table.Flush()
}
