// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/wire"
)

// fakeProcess is a Process whose exit is controlled by the test.
type fakeProcess struct {
	pid      int
	done     chan struct{}
	once     sync.Once
	exitCode int
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitCode() int         { return p.exitCode }

func (p *fakeProcess) Kill() error {
	p.exit(-1)
	return nil
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.exitCode = code
		close(p.done)
	})
}

// fakeLauncher records every launch.
type fakeLauncher struct {
	launches  [][]string
	processes []*fakeProcess
	failNext  error
}

func (l *fakeLauncher) Launch(argv []string) (Process, error) {
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return nil, err
	}
	l.launches = append(l.launches, argv)
	process := newFakeProcess(1000 + len(l.launches))
	l.processes = append(l.processes, process)
	return process, nil
}

func (l *fakeLauncher) current() *fakeProcess {
	return l.processes[len(l.processes)-1]
}

// fakeReply is one scripted transport outcome.
type fakeReply struct {
	content ipc.Content
	tag     ipc.ContentTag
	payload []byte
	err     error
}

// fakeTransport answers Exchange from respond and records requests.
type fakeTransport struct {
	requests  []ipc.Request
	resets    int
	acceptErr error
	respond   func(request ipc.Request) fakeReply
}

func (t *fakeTransport) WorkerArgs() []string { return []string{"--link", "/fake/link"} }

func (t *fakeTransport) Reset() { t.resets++ }

func (t *fakeTransport) Accept(ctx context.Context, exited <-chan struct{}) (int, error) {
	if t.acceptErr != nil {
		<-ctx.Done()
		return 0, fmt.Errorf("%w: %w", ErrTimeout, t.acceptErr)
	}
	return 4242, nil
}

func (t *fakeTransport) Exchange(request ipc.Request, timeout time.Duration) (ipc.ContentTag, []byte, error) {
	t.requests = append(t.requests, request)
	reply := t.respond(request)
	if reply.err != nil {
		return ipc.ContentNone, nil, reply.err
	}
	if reply.content != nil {
		payload, err := wire.EncodeContent(reply.content)
		if err != nil {
			panic(err)
		}
		return reply.content.Tag(), payload, nil
	}
	return reply.tag, reply.payload, nil
}

func (t *fakeTransport) Close() error { return nil }

// dataRequests filters out Exit requests sent by Stop.
func (t *fakeTransport) dataRequests() []ipc.Request {
	var requests []ipc.Request
	for _, request := range t.requests {
		if request.Message != ipc.MessageExit {
			requests = append(requests, request)
		}
	}
	return requests
}

func timeoutReply() fakeReply {
	return fakeReply{err: fmt.Errorf("%w: no reply", ErrTimeout)}
}

func newTestHandle(t *testing.T, transport *fakeTransport) (*Handle, *fakeLauncher) {
	t.Helper()
	launcher := &fakeLauncher{}
	handle, err := New(Config{
		Command:      []string{"/usr/libexec/sysmon-gatherer"},
		Transport:    transport,
		Launcher:     launcher,
		ReplyTimeout: 10 * time.Millisecond,
		ReadyTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := handle.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return handle, launcher
}

func processes(first, count int) []ipc.Process {
	list := make([]ipc.Process, count)
	for index := range list {
		list[index] = ipc.Process{PID: uint32(first + index), Name: fmt.Sprintf("proc-%d", first+index)}
	}
	return list
}
