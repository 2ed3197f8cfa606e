// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError ends the CLI with Code and no further message. Commands
// return it after printing their own result, such as doctor reporting
// failed checks.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode is checked by main to tell a reported outcome from an error
// that still needs printing.
func (e *ExitError) ExitCode() int {
	return e.Code
}
