// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Binaries
// call it from main() for errors returned by run(), where the
// structured logger may not be initialized.
func Fatal(err error) {
	report(os.Stderr, err)
	os.Exit(1)
}

func report(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}

// Terminator ends the process after an unrecoverable failure inside a
// long-running component. The zero value logs nothing and calls
// os.Exit.
type Terminator struct {
	Logger *slog.Logger

	// Exit replaces os.Exit in tests.
	Exit func(code int)
}

// Terminate logs err at error level and exits with code 1. It returns
// only when Exit is replaced and returns.
func (t Terminator) Terminate(component string, err error) {
	if t.Logger != nil {
		t.Logger.Error("unrecoverable failure, exiting", "component", component, "error", err)
	}
	exit := t.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(1)
}
