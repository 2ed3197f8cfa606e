// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the worker did not reply within the reply
	// timeout. Execute retries it.
	ErrTimeout = errors.New("gatherer reply timed out")

	// ErrWorkerDisconnected means the transport to the worker broke
	// (end of stream, reset, broken pipe). Execute respawns the worker.
	ErrWorkerDisconnected = errors.New("gatherer disconnected")

	// ErrProtocol means the worker replied with something other than
	// what the request calls for: an undecodable payload, a content
	// tag that does not match the message, or a runaway chunk stream.
	ErrProtocol = errors.New("gatherer protocol violation")

	// ErrNotStarted is returned by operations on a Handle whose worker
	// was never started or has been stopped.
	ErrNotStarted = errors.New("gatherer not started")

	// ErrFatal is wrapped by every FatalError.
	ErrFatal = errors.New("gatherer unrecoverable")
)

// ExitError reports that the worker process has exited.
type ExitError struct {
	PID  int
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("gatherer pid %d exited with code %d", e.PID, e.Code)
}

// FatalError is returned by Execute when every attempt failed. Errors
// holds the failure of each attempt in order.
type FatalError struct {
	Message string
	Errors  []error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Message, len(e.Errors), errors.Join(e.Errors...))
}

// Unwrap exposes ErrFatal and the individual attempt failures to
// errors.Is and errors.As.
func (e *FatalError) Unwrap() []error {
	return append([]error{ErrFatal}, e.Errors...)
}
