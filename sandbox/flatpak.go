// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FlatpakInfoPath is the file the Flatpak runtime places at the root of
// every sandbox.
const FlatpakInfoPath = "/.flatpak-info"

// FlatpakSpawn is the helper that runs commands on the host from inside
// a Flatpak sandbox.
const FlatpakSpawn = "flatpak-spawn"

// Flatpak describes the sandbox the current process runs in.
type Flatpak struct {
	// AppID is the application ID from the [Application] section, or
	// empty when the info file does not name one.
	AppID string

	// Runtime is the runtime ref from the [Application] section.
	Runtime string
}

// DetectFlatpak reports whether the filesystem rooted at root is a
// Flatpak sandbox, parsing the info file when it is. Pass "/" outside
// of tests.
func DetectFlatpak(root string) (*Flatpak, error) {
	data, err := os.ReadFile(filepath.Join(root, FlatpakInfoPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading flatpak info: %w", err)
	}

	info := &Flatpak{}
	section := ""
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}
		if section != "Application" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "name":
			info.AppID = strings.TrimSpace(value)
		case "runtime":
			info.Runtime = strings.TrimSpace(value)
		}
	}
	return info, scanner.Err()
}

// HostCommand wraps argv so that it runs on the host through
// flatpak-spawn. With watchBus set the host process is killed when the
// calling sandbox's session bus connection goes away, so the host
// process cannot outlive the app.
func HostCommand(argv []string, watchBus bool) []string {
	command := []string{FlatpakSpawn, "--host"}
	if watchBus {
		command = append(command, "--watch-bus")
	}
	return append(command, argv...)
}
