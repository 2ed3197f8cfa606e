// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apps

import (
	"path/filepath"
	"strings"
)

// SplitExec tokenizes a desktop entry Exec value. Arguments may be
// double-quoted; inside quotes a backslash escapes the next character.
// Field codes (%f, %U, %i, ...) are removed and %% becomes %.
func SplitExec(exec string) []string {
	var (
		arguments []string
		current   strings.Builder
		inQuotes  bool
		escaped   bool
		started   bool
	)
	flush := func() {
		if started {
			if argument, ok := stripFieldCodes(current.String()); ok {
				arguments = append(arguments, argument)
			}
		}
		current.Reset()
		started = false
	}

	for _, r := range exec {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case inQuotes && r == '\\':
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			started = true
		case !inQuotes && (r == ' ' || r == '\t'):
			flush()
		default:
			current.WriteRune(r)
			started = true
		}
	}
	flush()
	return arguments
}

// stripFieldCodes removes desktop field codes from one argument. An
// argument that consisted only of field codes is dropped.
func stripFieldCodes(argument string) (string, bool) {
	if !strings.ContainsRune(argument, '%') {
		return argument, true
	}
	var out strings.Builder
	hadCode := false
	for index := 0; index < len(argument); index++ {
		if argument[index] != '%' || index+1 >= len(argument) {
			out.WriteByte(argument[index])
			continue
		}
		index++
		if argument[index] == '%' {
			out.WriteByte('%')
			continue
		}
		hadCode = true
	}
	if hadCode && out.Len() == 0 {
		return "", false
	}
	return out.String(), true
}

// launch is the matching view of one installed app's Exec line.
type launch struct {
	// arguments is the Exec line with field codes removed and any
	// env/flatpak wrappers kept.
	arguments []string

	// program is the first non-wrapper argument: the executable the
	// desktop entry actually starts.
	program string

	// flatpakID and flatpakCommand are set for "flatpak run" entries.
	flatpakID      string
	flatpakCommand string
}

func parseLaunch(exec string) launch {
	arguments := SplitExec(exec)
	result := launch{arguments: arguments}

	rest := arguments
	// env VAR=value ... program
	if len(rest) > 0 && filepath.Base(rest[0]) == "env" {
		rest = rest[1:]
		for len(rest) > 0 && strings.Contains(rest[0], "=") && !strings.HasPrefix(rest[0], "-") {
			rest = rest[1:]
		}
	}

	if len(rest) >= 2 && filepath.Base(rest[0]) == "flatpak" && rest[1] == "run" {
		for _, argument := range rest[2:] {
			if value, ok := strings.CutPrefix(argument, "--command="); ok {
				result.flatpakCommand = value
				continue
			}
			if strings.HasPrefix(argument, "-") {
				continue
			}
			if result.flatpakID == "" {
				result.flatpakID = argument
			}
		}
		return result
	}

	if len(rest) > 0 {
		result.program = rest[0]
	}
	return result
}
