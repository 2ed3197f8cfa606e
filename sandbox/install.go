// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/sysmon/lib/binhash"
)

// InstallHostBinary copies source into directory so the host can
// execute it, returning the installed path. The copy is skipped when
// the installed file already has the same content; otherwise it is
// written to a temporary file, synced, made executable, and renamed
// into place so a concurrently starting gatherer never sees a partial
// binary.
func InstallHostBinary(source, directory string, logger *slog.Logger) (string, error) {
	destination := filepath.Join(directory, filepath.Base(source))

	same, err := binhash.SameContent(source, destination)
	if err != nil {
		return "", fmt.Errorf("comparing %s with %s: %w", source, destination, err)
	}
	if same {
		return destination, nil
	}

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("creating host binary directory: %w", err)
	}
	input, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", source, err)
	}
	defer input.Close()

	temporary, err := os.CreateTemp(directory, "."+filepath.Base(source)+".*")
	if err != nil {
		return "", fmt.Errorf("creating temporary host binary: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := io.Copy(temporary, input); err != nil {
		temporary.Close()
		return "", fmt.Errorf("copying %s: %w", source, err)
	}
	if err := temporary.Chmod(0o755); err != nil {
		temporary.Close()
		return "", fmt.Errorf("marking host binary executable: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return "", fmt.Errorf("syncing host binary: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return "", fmt.Errorf("closing host binary: %w", err)
	}
	if err := os.Rename(temporaryPath, destination); err != nil {
		return "", fmt.Errorf("installing host binary: %w", err)
	}

	digest, err := binhash.HashFile(destination)
	if err == nil {
		logger.Info("installed gatherer for host execution",
			"path", destination,
			"blake3", digest.String(),
		)
	}
	return destination, nil
}
