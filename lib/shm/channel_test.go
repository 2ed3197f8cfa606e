// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/sysmon/lib/ipc"
	"github.com/bureau-foundation/sysmon/lib/testutil"
)

// testLink returns a link path and a backing-directory option rooted in
// per-test temporary directories, keeping tests out of /dev/shm.
func testLink(t *testing.T) (string, Option) {
	t.Helper()
	return filepath.Join(t.TempDir(), "cache", "sysmon", "gatherer"), WithBackingDirectory(t.TempDir())
}

func openOwner(t *testing.T, link string, forceNew bool, options ...Option) *Channel {
	t.Helper()
	channel, err := CreateOrOpen(context.Background(), link, forceNew, options...)
	if err != nil {
		t.Fatalf("CreateOrOpen(owner): %v", err)
	}
	if !channel.IsOwner() {
		t.Fatal("first CreateOrOpen did not become owner")
	}
	t.Cleanup(func() { channel.Remove() })
	return channel
}

func openAttacher(t *testing.T, link string) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	channel, err := CreateOrOpen(ctx, link, false)
	if err != nil {
		t.Fatalf("CreateOrOpen(attach): %v", err)
	}
	if channel.IsOwner() {
		t.Fatal("second CreateOrOpen became owner")
	}
	t.Cleanup(func() { channel.Close() })
	return channel
}

func TestOwnerThenAttach(t *testing.T) {
	link, backing := testLink(t)
	owner := openOwner(t, link, false, backing)
	attacher := openAttacher(t, link)

	if attacher.BackingPath() != owner.BackingPath() {
		t.Errorf("attacher mapped %s, owner %s", attacher.BackingPath(), owner.BackingPath())
	}
	if attacher.OwnerPID() != os.Getpid() {
		t.Errorf("OwnerPID = %d, want %d", attacher.OwnerPID(), os.Getpid())
	}
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != owner.BackingPath() {
		t.Errorf("link points at %s, want %s", target, owner.BackingPath())
	}
}

func TestAttachBlocksUntilOwnerReady(t *testing.T) {
	link, backing := testLink(t)

	setupStarted := make(chan struct{})
	release := make(chan struct{})
	const marker = 0xAB
	setup := withSetup(func(data []byte) error {
		close(setupStarted)
		<-release
		data[channelHeaderSize] = marker
		return nil
	})

	ownerResult := make(chan error, 1)
	go func() {
		channel, err := CreateOrOpen(context.Background(), link, false, backing, setup)
		if err == nil {
			t.Cleanup(func() { channel.Remove() })
		}
		ownerResult <- err
	}()
	testutil.RequireClosed(t, setupStarted, 5*time.Second, "owner setup started")

	type attachOutcome struct {
		channel *Channel
		err     error
	}
	attached := make(chan attachOutcome, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		channel, err := CreateOrOpen(ctx, link, false)
		attached <- attachOutcome{channel, err}
	}()

	hold := time.NewTimer(100 * time.Millisecond)
	defer hold.Stop()
	select {
	case outcome := <-attached:
		t.Fatalf("attach returned before owner was ready (err %v)", outcome.err)
	case <-hold.C:
	}

	close(release)
	if err := testutil.RequireReceive(t, ownerResult, 5*time.Second, "owner create"); err != nil {
		t.Fatalf("owner CreateOrOpen: %v", err)
	}
	outcome := testutil.RequireReceive(t, attached, 5*time.Second, "attach after ready")
	if outcome.err != nil {
		t.Fatalf("attach: %v", outcome.err)
	}
	defer outcome.channel.Close()
	if outcome.channel.IsOwner() {
		t.Error("attacher believes it is the owner")
	}
	if got := outcome.channel.segment.data[channelHeaderSize]; got != marker {
		t.Errorf("attacher saw payload byte %#x, want setup's %#x", got, marker)
	}
}

func TestAttachTimesOutWhenOwnerNeverReady(t *testing.T) {
	link, backing := testLink(t)

	setupStarted := make(chan struct{})
	release := make(chan struct{})
	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		channel, err := CreateOrOpen(context.Background(), link, false, backing, withSetup(func([]byte) error {
			close(setupStarted)
			<-release
			return nil
		}))
		if err == nil {
			channel.Remove()
		}
	}()
	t.Cleanup(func() {
		close(release)
		<-ownerDone
	})
	testutil.RequireClosed(t, setupStarted, 5*time.Second, "owner setup started")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := CreateOrOpen(ctx, link, false); !errors.Is(err, ErrNotReady) {
		t.Fatalf("attach error = %v, want ErrNotReady", err)
	}
}

func TestForcedRecreation(t *testing.T) {
	link, backing := testLink(t)

	stale, err := CreateOrOpen(context.Background(), link, false, backing)
	if err != nil {
		t.Fatalf("CreateOrOpen: %v", err)
	}
	stale.Announce(4242)
	stalePath := stale.BackingPath()
	// Simulate the previous owner dying without cleanup: unmap only.
	stale.Close()

	fresh := openOwner(t, link, true, backing)
	if fresh.BackingPath() == stalePath {
		t.Fatal("forced recreation reused the stale backing file")
	}
	if _, err := os.Stat(stalePath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("stale backing file still present: %v", err)
	}
	if pid := fresh.WorkerPID(); pid != 0 {
		t.Errorf("fresh channel has worker pid %d, want 0", pid)
	}
	if sequence := fresh.RequestSequence(); sequence != 0 {
		t.Errorf("fresh channel has request sequence %d, want 0", sequence)
	}

	// A later non-forced open attaches to the fresh region; there is
	// exactly one owner.
	attacher := openAttacher(t, link)
	if attacher.BackingPath() != fresh.BackingPath() {
		t.Errorf("attacher mapped %s, want %s", attacher.BackingPath(), fresh.BackingPath())
	}
}

func TestStaleLinkRequiresForce(t *testing.T) {
	link, backing := testLink(t)
	if err := os.MkdirAll(filepath.Dir(link), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(t.TempDir(), "gone"), link); err != nil {
		t.Fatal(err)
	}

	if _, err := CreateOrOpen(context.Background(), link, false, backing); !errors.Is(err, ErrSegment) {
		t.Fatalf("stale link without force: got %v, want ErrSegment", err)
	}
	openOwner(t, link, true, backing)
}

func TestExchangeRoundTrip(t *testing.T) {
	link, backing := testLink(t)
	supervisor := openOwner(t, link, false, backing)
	worker := openAttacher(t, link)

	workerDone := make(chan error, 1)
	go func() {
		worker.Announce(os.Getpid())
		sequence, request, err := worker.AwaitRequest(worker.RequestSequence(), 5*time.Second)
		if err != nil {
			workerDone <- err
			return
		}
		if request.Message != ipc.MessageKillProcess || request.Argument != 77 || !request.StreamReset() {
			t.Errorf("worker received %+v", request)
		}
		workerDone <- worker.Reply(sequence, ipc.ContentAcknowledgement, []byte("ok"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := supervisor.WaitWorker(ctx, nil); err != nil {
		t.Fatalf("WaitWorker: %v", err)
	}

	tag, payload, err := supervisor.Exchange(ipc.Request{
		Message:  ipc.MessageKillProcess,
		Flags:    ipc.FlagStreamReset,
		Argument: 77,
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tag != ipc.ContentAcknowledgement || string(payload) != "ok" {
		t.Errorf("Exchange = (%s, %q)", tag, payload)
	}
	if err := testutil.RequireReceive(t, workerDone, 5*time.Second, "worker reply"); err != nil {
		t.Fatalf("worker: %v", err)
	}
}

func TestExchangeIgnoresLateReply(t *testing.T) {
	link, backing := testLink(t)
	supervisor := openOwner(t, link, false, backing)
	worker := openAttacher(t, link)

	if _, _, err := supervisor.Exchange(ipc.Request{Message: ipc.MessageGetProcesses}, 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first Exchange: got %v, want ErrTimeout", err)
	}

	go func() {
		sequence, _, err := worker.AwaitRequest(1, 5*time.Second)
		if err != nil {
			t.Errorf("AwaitRequest: %v", err)
			return
		}
		worker.Reply(sequence-1, ipc.ContentProcesses, []byte("stale"))
		worker.Reply(sequence, ipc.ContentCPUStaticInfo, []byte("fresh"))
	}()

	tag, payload, err := supervisor.Exchange(ipc.Request{Message: ipc.MessageGetCPUStaticInfo}, 5*time.Second)
	if err != nil {
		t.Fatalf("second Exchange: %v", err)
	}
	if tag != ipc.ContentCPUStaticInfo || string(payload) != "fresh" {
		t.Errorf("Exchange = (%s, %q), want the reply to the second request", tag, payload)
	}
}

func TestReplyRejectsOversizedPayload(t *testing.T) {
	link, backing := testLink(t)
	channel := openOwner(t, link, false, backing)

	if err := channel.Reply(1, ipc.ContentProcesses, make([]byte, PayloadCapacity+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Reply error = %v, want ErrPayloadTooLarge", err)
	}
	if err := channel.Reply(1, ipc.ContentProcesses, make([]byte, PayloadCapacity)); err != nil {
		t.Fatalf("Reply at capacity: %v", err)
	}
}

func TestContentDetectsCorruption(t *testing.T) {
	link, backing := testLink(t)
	channel := openOwner(t, link, false, backing)

	payload := bytes.Repeat([]byte{7}, 128)
	if err := channel.Reply(1, ipc.ContentApps, payload); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if _, got, err := channel.Content(); err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("Content = (%d bytes, %v)", len(got), err)
	}

	channel.segment.data[channelHeaderSize+5] ^= 0xff
	if _, _, err := channel.Content(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("corrupted payload: got %v, want ErrCorrupt", err)
	}
}

func TestRemoveDeletesLinkAndBacking(t *testing.T) {
	link, backing := testLink(t)
	channel, err := CreateOrOpen(context.Background(), link, false, backing)
	if err != nil {
		t.Fatalf("CreateOrOpen: %v", err)
	}
	backingPath := channel.BackingPath()
	if err := channel.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, path := range []string{link, backingPath} {
		if _, err := os.Lstat(path); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("%s still exists after Remove", path)
		}
	}
}
