// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package apps

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// SandboxLauncher is the process name Flatpak runs applications under.
const SandboxLauncher = "bwrap"

// Correlate attributes the processes of the tree under root to the
// installed apps they belong to. It returns the running apps in the
// order they appear in installed, each with its PIDs and summed usage,
// plus the number of PIDs dropped because an app reached
// ipc.AppPIDCapacity. Usage of dropped PIDs is still counted.
//
// A process belongs to an app when its executable or command line
// matches the app's Exec line, when it is the "flatpak run" process
// for the app, or when it runs inside a bwrap sandbox whose arguments
// name the app's Flatpak id or whose command is the app's --command=.
// Every descendant of a matched process belongs to the same app.
func Correlate(root *ipc.Process, installed []ipc.App) ([]ipc.App, int) {
	c := &correlator{
		apps:     make([]ipc.App, len(installed)),
		launches: make([]launch, len(installed)),
		running:  make([]bool, len(installed)),
	}
	for index, app := range installed {
		app.PIDs = nil
		app.Usage = ipc.Usage{}
		c.apps[index] = app
		exec := app.Exec
		if exec == "" {
			exec = app.Command
		}
		c.launches[index] = parseLaunch(exec)
	}

	c.walk(root, -1, nil)

	var running []ipc.App
	for index, app := range c.apps {
		if c.running[index] {
			running = append(running, app)
		}
	}
	return running, c.overflow
}

type correlator struct {
	apps     []ipc.App
	launches []launch
	running  []bool
	overflow int
}

func (c *correlator) walk(node *ipc.Process, owner int, sandbox *ipc.Process) {
	if owner < 0 {
		owner = c.match(node, sandbox)
	}
	if owner < 0 && isSandboxLauncher(node) {
		sandbox = node
	}
	if owner >= 0 {
		c.attribute(owner, node)
	}
	for index := range node.Children {
		c.walk(&node.Children[index], owner, sandbox)
	}
}

func (c *correlator) attribute(owner int, node *ipc.Process) {
	app := &c.apps[owner]
	c.running[owner] = true
	app.Usage.Add(node.Usage)
	if len(app.PIDs) >= ipc.AppPIDCapacity {
		c.overflow++
		return
	}
	app.PIDs = append(app.PIDs, node.PID)
}

func (c *correlator) match(node *ipc.Process, sandbox *ipc.Process) int {
	for index, launch := range c.launches {
		if launch.matches(node, sandbox) {
			return index
		}
	}
	return -1
}

func (l launch) matches(node *ipc.Process, sandbox *ipc.Process) bool {
	if l.flatpakID != "" {
		return l.matchesFlatpak(node, sandbox)
	}
	if l.program == "" {
		return false
	}
	programArguments := l.programArguments()
	// An interpreter entry ("python3 foo.py") must match on its
	// arguments; the interpreter's executable alone says nothing.
	if len(programArguments) == 0 && node.Exe != "" && sameProgram(node.Exe, l.program) {
		return true
	}
	if len(node.Cmd) == 0 || !sameProgram(node.Cmd[0], l.program) {
		return false
	}
	return len(node.Cmd)-1 >= len(programArguments) &&
		slices.Equal(node.Cmd[1:1+len(programArguments)], programArguments)
}

func (l launch) matchesFlatpak(node *ipc.Process, sandbox *ipc.Process) bool {
	// The "flatpak run <id>" process itself.
	if len(node.Cmd) >= 2 && filepath.Base(node.Cmd[0]) == "flatpak" && node.Cmd[1] == "run" &&
		slices.Contains(node.Cmd[2:], l.flatpakID) {
		return true
	}
	if isSandboxLauncher(node) && mentions(node.Cmd, l.flatpakID) {
		return true
	}
	if sandbox == nil || l.flatpakCommand == "" {
		return false
	}
	if len(node.Cmd) > 0 && sameProgram(node.Cmd[0], l.flatpakCommand) {
		return true
	}
	return node.Exe != "" && sameProgram(node.Exe, l.flatpakCommand)
}

// programArguments returns the Exec arguments that follow the program.
func (l launch) programArguments() []string {
	for index, argument := range l.arguments {
		if argument == l.program {
			return l.arguments[index+1:]
		}
	}
	return nil
}

// sameProgram compares a running executable against a desktop entry
// program. Absolute programs must match exactly; bare names match the
// executable's base name.
func sameProgram(executable, program string) bool {
	if filepath.IsAbs(program) {
		return executable == program
	}
	return filepath.Base(executable) == program
}

func isSandboxLauncher(node *ipc.Process) bool {
	if node.Name == SandboxLauncher {
		return true
	}
	return node.Exe != "" && filepath.Base(node.Exe) == SandboxLauncher
}

// mentions reports whether any argument names id as a path component
// or an exact value, so "org.foo.App" does not match
// "org.foo.AppTwo".
func mentions(arguments []string, id string) bool {
	for _, argument := range arguments {
		if argument == id {
			return true
		}
		for _, component := range strings.FieldsFunc(argument, func(r rune) bool {
			return r == '/' || r == '=' || r == ':'
		}) {
			if component == id {
				return true
			}
		}
	}
	return false
}
