// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/cmd/sysmon/cli"
	"github.com/bureau-foundation/sysmon/lib/config"
	"github.com/bureau-foundation/sysmon/lib/logging"
	"github.com/bureau-foundation/sysmon/lib/supervisor"
	"github.com/bureau-foundation/sysmon/lib/version"
)

func root() *cli.Command {
	var showVersion bool
	command := &cli.Command{
		Name:        "sysmon",
		Description: "Inspect processes, applications, CPUs, and GPUs through a supervised gatherer.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("sysmon", pflag.ContinueOnError)
			flags.BoolVar(&showVersion, "version", false, "print version information and exit")
			return flags
		},
	}
	command.Subcommands = []*cli.Command{
		processesCommand(),
		treeCommand(),
		appsCommand(),
		cpuCommand(),
		gpusCommand(),
		signalCommand(),
		watchCommand(),
		doctorCommand(),
		versionCommand(),
	}
	command.Run = func(ctx context.Context, args []string) error {
		if showVersion {
			version.Print("sysmon")
			return nil
		}
		command.PrintHelp(os.Stderr)
		if len(args) > 0 {
			return fmt.Errorf("unknown command %q", args[0])
		}
		return fmt.Errorf("subcommand required")
	}
	return command
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print build information",
		Run: func(ctx context.Context, args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}

// session holds the flags shared by every command that talks to a
// gatherer.
type session struct {
	configPath string
	transport  string
	logLevel   string
}

func (s *session) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&s.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flags.StringVar(&s.transport, "transport", "", "override the configured transport (shm, socket)")
	flags.StringVar(&s.logLevel, "log-level", "", "override the configured log level")
}

// load reads the configuration and applies flag overrides.
func (s *session) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if s.configPath != "" {
		cfg, err = config.LoadFile(s.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if s.transport != "" {
		cfg.Transport = config.Transport(s.transport)
	}
	if s.logLevel != "" {
		cfg.LogLevel = s.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (s *session) logger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level), nil
}

// open loads the configuration and starts a supervisor. registerer may
// be nil.
func (s *session) open(ctx context.Context, registerer prometheus.Registerer, adjust func(*config.Config)) (*supervisor.Supervisor, error) {
	cfg, err := s.load()
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	logger, err := s.logger(cfg)
	if err != nil {
		return nil, err
	}
	return supervisor.Open(ctx, cfg, supervisor.Options{
		Registerer: registerer,
		Logger:     logger,
	})
}
