// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Process is a running gatherer as seen by the Handle.
type Process interface {
	// PID is the operating-system process id of the spawned command.
	PID() int

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// ExitCode is valid after Done is closed; -1 when the process was
	// killed by a signal or could not be waited for.
	ExitCode() int

	// Kill sends SIGKILL. Killing an exited process is not an error.
	Kill() error
}

// Launcher starts gatherer processes.
type Launcher interface {
	Launch(argv []string) (Process, error)
}

// ExecLauncher starts processes with os/exec. The child inherits the
// supervisor's stdout and stderr so its logs land in the same stream.
type ExecLauncher struct {
	Logger *slog.Logger
}

// Launch starts argv and reaps it in the background so it never
// lingers as a zombie.
func (l ExecLauncher) Launch(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("launching gatherer: empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting gatherer %s: %w", argv[0], err)
	}

	process := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		waitError := cmd.Wait()
		exitCode := 0
		if waitError != nil {
			var exitErr *exec.ExitError
			if errors.As(waitError, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		process.exitCode = exitCode
		close(process.done)
		if l.Logger != nil {
			l.Logger.Info("gatherer process exited",
				"pid", cmd.Process.Pid,
				"exit_code", exitCode,
				"error", waitError,
			)
		}
	}()
	return process, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
