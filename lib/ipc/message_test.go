// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"testing"
)

func TestExpectedContentIsOneToOne(t *testing.T) {
	dataMessages := map[Message]ContentTag{
		MessageGetProcesses:      ContentProcesses,
		MessageGetApps:           ContentApps,
		MessageGetCPUStaticInfo:  ContentCPUStaticInfo,
		MessageGetCPUDynamicInfo: ContentCPUDynamicInfo,
		MessageGetLogicalCPUInfo: ContentLogicalCPUs,
		MessageEnumerateGPUs:     ContentGPUList,
		MessageGetGPUStaticInfo:  ContentGPUStaticInfo,
		MessageGetGPUDynamicInfo: ContentGPUDynamicInfo,
	}

	seen := make(map[ContentTag]Message)
	for message, want := range dataMessages {
		got := message.ExpectedContent()
		if got != want {
			t.Errorf("%s.ExpectedContent() = %s, want %s", message, got, want)
		}
		if previous, duplicate := seen[got]; duplicate {
			t.Errorf("%s and %s both map to %s", previous, message, got)
		}
		seen[got] = message
	}

	// Every content variant other than none/acknowledgement must be
	// reachable from exactly one data message.
	for tag := ContentNone + 1; tag < contentLimit; tag++ {
		if tag == ContentAcknowledgement {
			continue
		}
		if _, ok := seen[tag]; !ok {
			t.Errorf("content %s has no request message", tag)
		}
	}
}

func TestControlMessagesExpectAcknowledgement(t *testing.T) {
	for message := MessageUnknown; message < messageLimit; message++ {
		if !message.IsControl() {
			continue
		}
		if got := message.ExpectedContent(); got != ContentAcknowledgement {
			t.Errorf("%s.ExpectedContent() = %s, want acknowledgement", message, got)
		}
		if message.IsChunked() {
			t.Errorf("%s reports chunked replies", message)
		}
	}
	if MessageGetProcesses.IsControl() {
		t.Error("get-processes reported as a control message")
	}
}

func TestMessagesWithoutContent(t *testing.T) {
	for _, message := range []Message{MessageUnknown, MessageDataReady, Message(999)} {
		if got := message.ExpectedContent(); got != ContentNone {
			t.Errorf("%v.ExpectedContent() = %s, want none", message, got)
		}
	}
}

func TestParseMessage(t *testing.T) {
	for message := MessageUnknown; message < messageLimit; message++ {
		parsed, err := ParseMessage(message.String())
		if err != nil {
			t.Fatalf("ParseMessage(%q): %v", message.String(), err)
		}
		if parsed != message {
			t.Errorf("ParseMessage(%q) = %v, want %v", message.String(), parsed, message)
		}
	}
	if _, err := ParseMessage("get-everything"); err == nil {
		t.Error("ParseMessage accepted an unknown name")
	}
}

func TestChunkCapacityValidation(t *testing.T) {
	full := ProcessChunk{Processes: make([]Process, ProcessChunkCapacity)}
	if err := full.Validate(); err != nil {
		t.Errorf("chunk at capacity rejected: %v", err)
	}
	over := ProcessChunk{Processes: make([]Process, ProcessChunkCapacity+1)}
	if err := over.Validate(); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("oversized chunk: got %v, want ErrCapacityExceeded", err)
	}

	gpus := GPUListChunk{GPUs: make([]GPUDescriptor, GPUChunkCapacity+1)}
	if err := gpus.Validate(); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("oversized gpu chunk: got %v, want ErrCapacityExceeded", err)
	}

	apps := AppChunk{Apps: []App{{ID: "org.example.Busy", PIDs: make([]uint32, AppPIDCapacity+1)}}}
	if err := apps.Validate(); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("app with too many pids: got %v, want ErrCapacityExceeded", err)
	}
}

func TestStreamResetFlag(t *testing.T) {
	request := Request{Message: MessageGetProcesses}
	if request.StreamReset() {
		t.Error("zero flags reported stream reset")
	}
	request.Flags |= FlagStreamReset
	if !request.StreamReset() {
		t.Error("FlagStreamReset not reported")
	}
}
