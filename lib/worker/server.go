// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/wire"
)

// defaultPollInterval bounds each wait for a request so the loop
// notices a dead parent or a cancelled context.
const defaultPollInterval = time.Second

// ErrOrphaned is returned by Serve when the supervisor that spawned the
// worker has gone.
var ErrOrphaned = errors.New("supervisor exited")

// Collector produces the data the worker serves. *collect.System is the
// production implementation.
type Collector interface {
	Processes(ctx context.Context) ([]ipc.Process, error)
	InstalledApps(ctx context.Context) ([]ipc.App, error)
	CPUStatic(ctx context.Context) (ipc.CPUStaticInfo, error)
	CPUDynamic(ctx context.Context) (ipc.CPUDynamicInfo, error)
	LogicalCPUs(ctx context.Context) ([]ipc.LogicalCPU, error)
	GPUs(ctx context.Context) ([]ipc.GPUDescriptor, error)
	GPUStatic(ctx context.Context) ([]ipc.GPUStaticInfo, error)
	GPUDynamic(ctx context.Context) ([]ipc.GPUDynamicInfo, error)
}

// Config configures a Server. Exactly one of LinkPath and SocketPath
// is set.
type Config struct {
	// LinkPath is the shared-memory channel link to attach to.
	LinkPath string

	// SocketPath is the supervisor's unix socket.
	SocketPath string

	// Compression is applied to large socket replies.
	Compression wire.Compression

	// Collector is required.
	Collector Collector

	// WatchParent makes Serve return ErrOrphaned once the parent pid
	// changes, and on Linux asks the kernel to kill the worker when
	// its parent dies.
	WatchParent bool

	// Kill delivers signals for control messages. Nil means unix.Kill.
	Kill func(pid int, signal unix.Signal) error

	// PollInterval bounds each idle wait between liveness checks.
	// Zero means one second.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Server answers supervisor requests over one endpoint.
type Server struct {
	collector Collector
	endpoint  endpoint
	kill      func(pid int, signal unix.Signal) error
	logger    *slog.Logger
	parentPID int
	poll      time.Duration
	stream    *stream
}

// Attach connects to the supervisor's endpoint. ctx bounds the wait
// for a shared-memory channel to become ready or a socket dial.
func Attach(ctx context.Context, config Config) (*Server, error) {
	if config.Collector == nil {
		return nil, fmt.Errorf("worker: Collector is required")
	}
	if (config.LinkPath == "") == (config.SocketPath == "") {
		return nil, fmt.Errorf("worker: exactly one of LinkPath and SocketPath is required")
	}

	var (
		attached endpoint
		err      error
	)
	if config.LinkPath != "" {
		attached, err = attachSharedMemory(ctx, config.LinkPath)
	} else {
		attached, err = dialSocket(ctx, config.SocketPath, config.Compression)
	}
	if err != nil {
		return nil, err
	}
	return newServer(config, attached), nil
}

func newServer(config Config, attached endpoint) *Server {
	server := &Server{
		collector: config.Collector,
		endpoint:  attached,
		kill:      config.Kill,
		logger:    config.Logger,
		poll:      config.PollInterval,
	}
	if server.poll <= 0 {
		server.poll = defaultPollInterval
	}
	if server.kill == nil {
		server.kill = func(pid int, signal unix.Signal) error { return unix.Kill(pid, signal) }
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}
	if config.WatchParent {
		server.parentPID = os.Getppid()
		if err := setParentDeathSignal(); err != nil {
			server.logger.Warn("cannot request parent death signal", "error", err)
		}
	}
	return server
}

// Serve announces the worker and answers requests until the supervisor
// sends Exit (nil), detaches (ErrDetached), exits (ErrOrphaned), or ctx
// ends (nil).
func (s *Server) Serve(ctx context.Context) error {
	if err := s.endpoint.announce(os.Getpid()); err != nil {
		return err
	}
	s.logger.Info("gatherer ready", "pid", os.Getpid())

	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.parentPID != 0 && os.Getppid() != s.parentPID {
			return fmt.Errorf("%w: parent pid %d is gone", ErrOrphaned, s.parentPID)
		}

		request, err := s.endpoint.await(s.poll)
		switch {
		case errors.Is(err, errIdle):
			continue
		case errors.Is(err, wire.ErrMalformed):
			s.logger.Warn("discarding malformed request", "error", err)
			continue
		case err != nil:
			return err
		}

		exit, err := s.handle(ctx, request)
		if err != nil {
			return err
		}
		if exit {
			s.logger.Info("gatherer exiting on request")
			return nil
		}
	}
}

// Close releases the endpoint.
func (s *Server) Close() error { return s.endpoint.close() }

// handle answers one request. It reports whether the worker should
// exit; the error is an endpoint failure that ends Serve.
func (s *Server) handle(ctx context.Context, request ipc.Request) (bool, error) {
	logger := s.logger.With("message", request.Message)
	switch {
	case request.Message == ipc.MessageExit:
		return true, s.acknowledge(nil)
	case request.Message == ipc.MessageAcknowledge:
		return false, s.acknowledge(nil)
	case request.Message.IsControl():
		err := s.control(ctx, request.Message, request.Argument)
		if err != nil {
			logger.Warn("control request failed", "pid", request.Argument, "error", err)
		}
		return false, s.acknowledge(err)
	case request.Message.IsChunked():
		tag, payload, err := s.nextChunk(ctx, request)
		if err != nil {
			logger.Error("serving chunk failed", "error", err)
			return false, s.acknowledge(err)
		}
		return false, s.send(tag, payload)
	case request.Message == ipc.MessageGetCPUStaticInfo:
		info, err := s.collector.CPUStatic(ctx)
		return false, s.replyContent(logger, info, err)
	case request.Message == ipc.MessageGetCPUDynamicInfo:
		info, err := s.collector.CPUDynamic(ctx)
		return false, s.replyContent(logger, info, err)
	}
	logger.Warn("unsupported request")
	return false, s.acknowledge(fmt.Errorf("unsupported message %s", request.Message))
}

// replyContent sends content, or a failed acknowledgement when it
// could not be collected. The supervisor treats the latter as a
// protocol failure and retries.
func (s *Server) replyContent(logger *slog.Logger, content ipc.Content, err error) error {
	if err != nil {
		logger.Error("collecting failed", "error", err)
		return s.acknowledge(err)
	}
	payload, err := s.encode(content)
	if err != nil {
		return s.acknowledge(err)
	}
	return s.send(content.Tag(), payload)
}

func (s *Server) acknowledge(failure error) error {
	acknowledgement := ipc.Acknowledgement{OK: failure == nil}
	if failure != nil {
		acknowledgement.Error = failure.Error()
	}
	payload, err := s.encode(acknowledgement)
	if err != nil {
		return err
	}
	return s.endpoint.reply(ipc.ContentAcknowledgement, payload)
}

func (s *Server) encode(content ipc.Content) ([]byte, error) {
	payload, err := wire.EncodeContent(content)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", content.Tag(), err)
	}
	return payload, nil
}

func (s *Server) send(tag ipc.ContentTag, payload []byte) error {
	if err := s.endpoint.reply(tag, payload); err != nil {
		if errors.Is(err, ErrDetached) {
			return err
		}
		s.logger.Error("reply failed", "content", tag, "error", err)
		return s.acknowledge(err)
	}
	return nil
}
