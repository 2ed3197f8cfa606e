// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collect

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/sysmon/lib/apps"
	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// ApplicationDirectories returns the directories desktop entries are
// read from, highest precedence first: the user's data directory, the
// Flatpak export directories, then $XDG_DATA_DIRS.
func ApplicationDirectories() []string {
	var directories []string
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataHome = filepath.Join(home, ".local/share")
		}
	}
	if dataHome != "" {
		directories = append(directories,
			filepath.Join(dataHome, "applications"),
			filepath.Join(dataHome, "flatpak/exports/share/applications"))
	}
	directories = append(directories, "/var/lib/flatpak/exports/share/applications")

	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}
	for _, directory := range filepath.SplitList(dataDirs) {
		if directory != "" {
			directories = append(directories, filepath.Join(directory, "applications"))
		}
	}
	return directories
}

// ReadInstalledApps reads the launchable desktop entries under the
// given directories. An entry id found in an earlier directory hides
// the same id in later ones. Entries that are hidden, marked
// NoDisplay, not of Type=Application, or lack Exec are skipped.
// Missing directories are not errors. The result is sorted by name.
func ReadInstalledApps(directories []string) []ipc.App {
	seen := make(map[string]bool)
	var installed []ipc.App
	for _, directory := range directories {
		filepath.WalkDir(directory, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if entry != nil && entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if entry.IsDir() || !strings.HasSuffix(path, ".desktop") {
				return nil
			}
			relative, err := filepath.Rel(directory, path)
			if err != nil {
				return nil
			}
			id := strings.ReplaceAll(strings.TrimSuffix(relative, ".desktop"), string(filepath.Separator), "-")
			if seen[id] {
				return nil
			}
			seen[id] = true

			file, err := os.Open(path)
			if err != nil {
				return nil
			}
			defer file.Close()
			if app, ok := parseDesktopEntry(file, id); ok {
				installed = append(installed, app)
			}
			return nil
		})
	}
	slices.SortStableFunc(installed, func(a, b ipc.App) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return installed
}

// parseDesktopEntry reads the [Desktop Entry] group. Localized keys
// (Name[de]) are ignored in favour of the unlocalized value.
func parseDesktopEntry(reader io.Reader, id string) (ipc.App, bool) {
	values := make(map[string]string)
	inEntry := false
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inEntry = line == "[Desktop Entry]"
			continue
		}
		if !inEntry {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := values[key]; !exists {
			values[key] = strings.TrimSpace(value)
		}
	}

	if values["Type"] != "Application" || values["Exec"] == "" ||
		values["Hidden"] == "true" || values["NoDisplay"] == "true" {
		return ipc.App{}, false
	}

	app := ipc.App{
		ID:   id,
		Name: values["Name"],
		Icon: values["Icon"],
		Exec: values["Exec"],
	}
	if app.Name == "" {
		app.Name = id
	}
	if arguments := apps.SplitExec(app.Exec); len(arguments) > 0 {
		app.Command = arguments[0]
	}
	return app, true
}
