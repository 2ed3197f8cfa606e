// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/cmd/sysmon/cli"
	"github.com/bureau-foundation/sysmon/lib/gatherer"
	"github.com/bureau-foundation/sysmon/lib/version"
	"github.com/bureau-foundation/sysmon/sandbox"
)

func doctorCommand() *cli.Command {
	var session session
	return &cli.Command{
		Name:    "doctor",
		Summary: "Check that a gatherer can be spawned from here",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
			session.addFlags(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			cfg, err := session.load()
			if err != nil {
				return err
			}
			environment, err := gatherer.DetectEnvironment(cfg.AppID)
			if err != nil {
				return err
			}
			capabilities, err := sandbox.DetectCapabilities("/")
			if err != nil {
				return err
			}

			bundled := cfg.Gatherer.Path
			if bundled == "" {
				bundled = environment.FindBinary(gatherer.BinaryName)
			}
			validator := sandbox.NewValidator()
			validator.ValidateCapabilities(capabilities)
			validator.ValidateGathererBinary(bundled)
			validator.ValidateEndpointDirectory(environment.EndpointDirectory())
			validator.PrintResults(os.Stdout)

			if self, err := version.Self(); err == nil {
				fmt.Printf("  sysmon %s\n  digest %s\n", version.Info(), self.Digest)
			}
			if environment.InFlatpak() && bundled != "" {
				hostDirectory := cfg.Gatherer.HostDirectory
				if hostDirectory == "" {
					hostDirectory = environment.HostBinaryDirectory()
				}
				reportHostCopy(os.Stdout, bundled, filepath.Join(hostDirectory, filepath.Base(bundled)))
			}

			if validator.HasErrors() {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// reportHostCopy says whether the host-visible gatherer copy matches
// the bundled build. A stale copy is replaced on the next spawn.
func reportHostCopy(w io.Writer, bundled, installed string) {
	drift, err := version.CompareInstalled(bundled, installed)
	switch {
	case err != nil:
		fmt.Fprintf(w, "  host copy: %v\n", err)
	case drift.Missing:
		fmt.Fprintf(w, "  host copy: not installed yet (%s)\n", installed)
	case drift.Stale():
		fmt.Fprintf(w, "  host copy: stale, will be replaced on next start (%s)\n", installed)
	default:
		fmt.Fprintf(w, "  host copy: up to date (%s)\n", installed)
	}
}
