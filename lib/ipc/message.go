// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"strings"
)

// Message identifies a request from the supervisor to the worker. The
// numeric values are protocol constants: they are written into the
// shared-memory header and into socket frame headers, so changing them
// breaks compatibility between a supervisor and an older worker.
type Message uint32

const (
	MessageUnknown Message = iota
	MessageGetProcesses
	MessageGetApps
	MessageGetCPUStaticInfo
	MessageGetCPUDynamicInfo
	MessageGetLogicalCPUInfo
	MessageEnumerateGPUs
	MessageGetGPUStaticInfo
	MessageGetGPUDynamicInfo
	MessageTerminateProcess
	MessageKillProcess
	MessageKillProcessTree
	MessageSuspendProcess
	MessageContinueProcess
	MessageHangupProcess
	MessageInterruptProcess
	MessageUserSignalOne
	MessageUserSignalTwo
	MessageAcknowledge
	MessageDataReady
	MessageExit

	// messageLimit is one past the highest defined message.
	messageLimit
)

var messageNames = [...]string{
	MessageUnknown:           "unknown",
	MessageGetProcesses:      "get-processes",
	MessageGetApps:           "get-apps",
	MessageGetCPUStaticInfo:  "get-cpu-static-info",
	MessageGetCPUDynamicInfo: "get-cpu-dynamic-info",
	MessageGetLogicalCPUInfo: "get-logical-cpu-info",
	MessageEnumerateGPUs:     "enumerate-gpus",
	MessageGetGPUStaticInfo:  "get-gpu-static-info",
	MessageGetGPUDynamicInfo: "get-gpu-dynamic-info",
	MessageTerminateProcess:  "terminate-process",
	MessageKillProcess:       "kill-process",
	MessageKillProcessTree:   "kill-process-tree",
	MessageSuspendProcess:    "suspend-process",
	MessageContinueProcess:   "continue-process",
	MessageHangupProcess:     "hangup-process",
	MessageInterruptProcess:  "interrupt-process",
	MessageUserSignalOne:     "user-signal-one",
	MessageUserSignalTwo:     "user-signal-two",
	MessageAcknowledge:       "acknowledge",
	MessageDataReady:         "data-ready",
	MessageExit:              "exit",
}

// String returns the kebab-case name used in logs and CLI output.
func (message Message) String() string {
	if message < messageLimit {
		return messageNames[message]
	}
	return fmt.Sprintf("message(%d)", uint32(message))
}

// ParseMessage is the inverse of String. Unknown names return an error
// rather than MessageUnknown so that CLI typos surface immediately.
func ParseMessage(name string) (Message, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for index, candidate := range messageNames {
		if candidate == name {
			return Message(index), nil
		}
	}
	return MessageUnknown, fmt.Errorf("unknown message %q", name)
}

// Valid reports whether message is a defined protocol value.
func (message Message) Valid() bool {
	return message < messageLimit
}

// IsControl reports whether message is a process-control command: a
// one-way action on a target PID whose only reply is an
// acknowledgement.
func (message Message) IsControl() bool {
	switch message {
	case MessageTerminateProcess, MessageKillProcess, MessageKillProcessTree,
		MessageSuspendProcess, MessageContinueProcess, MessageHangupProcess,
		MessageInterruptProcess, MessageUserSignalOne, MessageUserSignalTwo:
		return true
	}
	return false
}

// IsChunked reports whether the reply to message is streamed as a
// sequence of chunks terminated by IsComplete.
func (message Message) IsChunked() bool {
	return message.ExpectedContent().IsChunked()
}

// ExpectedContent returns the only content variant the worker may use
// to answer message. Messages that the worker never answers with data
// (MessageUnknown, MessageDataReady) return ContentNone.
func (message Message) ExpectedContent() ContentTag {
	switch message {
	case MessageGetProcesses:
		return ContentProcesses
	case MessageGetApps:
		return ContentApps
	case MessageGetCPUStaticInfo:
		return ContentCPUStaticInfo
	case MessageGetCPUDynamicInfo:
		return ContentCPUDynamicInfo
	case MessageGetLogicalCPUInfo:
		return ContentLogicalCPUs
	case MessageEnumerateGPUs:
		return ContentGPUList
	case MessageGetGPUStaticInfo:
		return ContentGPUStaticInfo
	case MessageGetGPUDynamicInfo:
		return ContentGPUDynamicInfo
	case MessageAcknowledge, MessageExit:
		return ContentAcknowledgement
	}
	if message.IsControl() {
		return ContentAcknowledgement
	}
	return ContentNone
}

// RequestFlags modify how the worker handles a request.
type RequestFlags uint32

const (
	// FlagStreamReset tells the worker to discard any in-progress chunk
	// stream and take a fresh snapshot starting at chunk zero. The
	// supervisor sets it on the first send of every logical request and
	// on every resend after a failure, so a timed-out chunk is never
	// silently skipped.
	FlagStreamReset RequestFlags = 1 << 0
)

// Request is one supervisor-to-worker message.
type Request struct {
	Message Message
	Flags   RequestFlags

	// Argument carries the target PID for control messages and is zero
	// otherwise.
	Argument int64
}

// StreamReset reports whether FlagStreamReset is set.
func (request Request) StreamReset() bool {
	return request.Flags&FlagStreamReset != 0
}
