// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sysmon-gatherer collects system telemetry on behalf of a sysmon
// supervisor. The supervisor spawns it with the endpoint to attach to;
// it is not meant to be run by hand except with --probe or --version.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/sysmon/lib/collect"
	"github.com/bureau-foundation/sysmon/lib/logging"
	"github.com/bureau-foundation/sysmon/lib/process"
	"github.com/bureau-foundation/sysmon/lib/version"
	"github.com/bureau-foundation/sysmon/lib/worker"
)

// logLevelEnvironment sets the gatherer's log level. The supervisor's
// environment is inherited, so one variable covers both processes.
const logLevelEnvironment = "SYSMON_GATHERER_LOG_LEVEL"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	args := os.Args[1:]
	if len(args) == 1 && args[0] == "--version" {
		version.Print("sysmon-gatherer")
		return nil
	}

	level, err := logging.ParseLevel(os.Getenv(logLevelEnvironment))
	if err != nil {
		return err
	}
	logger := logging.New(level).With("component", "gatherer", "pid", os.Getpid())

	// Interrupts from the terminal reach the whole process group. The
	// supervisor decides when the gatherer stops.
	signal.Ignore(syscall.SIGINT)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	collector := collect.New(collect.Config{Logger: logger})
	return worker.Run(ctx, args, collector, logger)
}
