// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// ProbeFlag makes a gatherer binary exit 0 immediately. A binary that
// cannot be loaded (wrong libc on the host) fails before reaching it.
const ProbeFlag = "--probe"

// Runner runs argv to completion. A nil error means exit status 0.
type Runner func(ctx context.Context, argv []string) error

// ExecRunner runs argv with os/exec, discarding its output.
func ExecRunner(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
}

// ProbeVariant picks the gatherer build that runs on the host. The
// glibc build is preferred and probed by running wrap(glibc --probe);
// on any failure the musl build, which is statically linked, is
// returned. wrap is typically HostCommand when crossing a Flatpak
// boundary and may be nil.
func ProbeVariant(ctx context.Context, run Runner, wrap func([]string) []string, glibc, musl string, logger *slog.Logger) string {
	argv := []string{glibc, ProbeFlag}
	if wrap != nil {
		argv = wrap(argv)
	}
	if err := run(ctx, argv); err != nil {
		logger.Info("glibc gatherer did not start on host, using musl build",
			"glibc", glibc,
			"musl", musl,
			"error", err,
		)
		return musl
	}
	return glibc
}
