// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmon/lib/shm"
	"github.com/bureau-foundation/sysmon/lib/wire"
)

// attachTimeout bounds the wait for the supervisor's endpoint.
const attachTimeout = 10 * time.Second

// Run parses a gatherer command line, attaches to the supervisor it
// names, and serves until told to exit. It is the whole of the
// sysmon-gatherer binary apart from choosing the collector.
func Run(ctx context.Context, args []string, collector Collector, logger *slog.Logger) error {
	var (
		linkPath      string
		socketPath    string
		compression   string
		probe         bool
		boardPath     string
		boardInterval time.Duration
	)
	flags := pflag.NewFlagSet("sysmon-gatherer", pflag.ContinueOnError)
	flags.StringVar(&linkPath, "link", "", "shared-memory channel link created by the supervisor")
	flags.StringVar(&socketPath, "socket", "", "unix socket the supervisor listens on")
	flags.StringVar(&compression, "compression", "none", "socket reply compression (none, lz4, zstd)")
	flags.BoolVar(&probe, "probe", false, "exit successfully without attaching")
	flags.StringVar(&boardPath, "board", "", "GPU telemetry board link to publish to")
	flags.DurationVar(&boardInterval, "board-interval", time.Second, "GPU telemetry publish interval")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if probe {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	codec, err := wire.ParseCompression(compression)
	if err != nil {
		return err
	}

	attachCtx, cancel := context.WithTimeout(ctx, attachTimeout)
	defer cancel()
	server, err := Attach(attachCtx, Config{
		LinkPath:    linkPath,
		SocketPath:  socketPath,
		Compression: codec,
		Collector:   collector,
		WatchParent: true,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("attaching to supervisor: %w", err)
	}
	defer server.Close()

	serveCtx, stop := context.WithCancel(ctx)
	defer stop()
	if boardPath != "" {
		board, err := attachBoard(attachCtx, boardPath)
		if err != nil {
			return err
		}
		defer board.Close()
		publisher := &Publisher{
			Board:     board,
			Collector: collector,
			Interval:  boardInterval,
			Logger:    logger,
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			publisher.Run(serveCtx)
		}()
		defer func() {
			stop()
			<-done
		}()
	}

	return server.Serve(serveCtx)
}

// attachBoard opens the board the supervisor created. Creating it here
// would publish into a board nobody reads.
func attachBoard(ctx context.Context, path string) (*shm.Board, error) {
	board, err := shm.CreateOrOpenBoard(ctx, path, false)
	if err != nil {
		return nil, fmt.Errorf("attaching gpu board: %w", err)
	}
	if board.IsOwner() {
		board.Remove()
		return nil, fmt.Errorf("attaching gpu board: no supervisor board at %s", path)
	}
	return board, nil
}
