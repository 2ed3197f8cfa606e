// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/sysmon/lib/clock"
	"github.com/bureau-foundation/sysmon/lib/codec"
	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/shm"
)

// boardLockTimeout bounds each publish. A reader that died holding the
// lock costs one missed sample, not a stuck publisher.
const boardLockTimeout = 100 * time.Millisecond

// Publisher samples GPU sensors into a telemetry board at a fixed
// interval.
type Publisher struct {
	Board     *shm.Board
	Collector Collector
	Interval  time.Duration
	Logger    *slog.Logger

	// Clock drives the interval and stamps samples. Nil means
	// clock.Real().
	Clock clock.Clock
}

func (p *Publisher) clock() clock.Clock {
	if p.Clock == nil {
		return clock.Real()
	}
	return p.Clock
}

// Run publishes one sample immediately and then every Interval until
// ctx ends. Failed samples are logged and skipped.
func (p *Publisher) Run(ctx context.Context) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ticker := p.clock().NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		if err := p.PublishOnce(ctx); err != nil {
			logger.Warn("publishing gpu telemetry failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PublishOnce samples the GPUs and replaces the board's snapshot.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	gpus, err := p.Collector.GPUDynamic(ctx)
	if err != nil {
		return fmt.Errorf("sampling gpus: %w", err)
	}
	sampledAt := p.clock().Now().UnixNano()
	payload, err := codec.MarshalBounded(ipc.GPUTelemetry{SampledAt: sampledAt, GPUs: gpus}, shm.BoardCapacity)
	if err != nil {
		return fmt.Errorf("encoding gpu telemetry: %w", err)
	}
	return p.Board.Publish(payload, boardLockTimeout)
}
