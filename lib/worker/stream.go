// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// snapshot is one collected result, served as chunks.
type snapshot struct {
	length int

	// chunk builds the chunk holding items [from, to).
	chunk func(from, to int, complete bool) ipc.Content
}

func sliceSnapshot[T any](items []T, build func(items []T, complete bool) ipc.Content) snapshot {
	return snapshot{
		length: len(items),
		chunk: func(from, to int, complete bool) ipc.Content {
			return build(items[from:to], complete)
		},
	}
}

// stream is the chunk stream of one message in progress.
type stream struct {
	message  ipc.Message
	snapshot snapshot
	next     int
	done     bool

	// limit is the chunk size that last fit the endpoint.
	limit int
}

// collect takes a fresh snapshot for a chunked message.
func (s *Server) collect(ctx context.Context, message ipc.Message) (snapshot, error) {
	switch message {
	case ipc.MessageGetProcesses:
		processes, err := s.collector.Processes(ctx)
		if err != nil {
			return snapshot{}, err
		}
		return sliceSnapshot(processes, func(items []ipc.Process, complete bool) ipc.Content {
			return ipc.ProcessChunk{Processes: items, IsComplete: complete}
		}), nil
	case ipc.MessageGetApps:
		installed, err := s.collector.InstalledApps(ctx)
		if err != nil {
			return snapshot{}, err
		}
		return sliceSnapshot(installed, func(items []ipc.App, complete bool) ipc.Content {
			return ipc.AppChunk{Apps: items, IsComplete: complete}
		}), nil
	case ipc.MessageGetLogicalCPUInfo:
		cpus, err := s.collector.LogicalCPUs(ctx)
		if err != nil {
			return snapshot{}, err
		}
		return sliceSnapshot(cpus, func(items []ipc.LogicalCPU, complete bool) ipc.Content {
			return ipc.LogicalCPUChunk{CPUs: items, IsComplete: complete}
		}), nil
	case ipc.MessageEnumerateGPUs:
		gpus, err := s.collector.GPUs(ctx)
		if err != nil {
			return snapshot{}, err
		}
		return sliceSnapshot(gpus, func(items []ipc.GPUDescriptor, complete bool) ipc.Content {
			return ipc.GPUListChunk{GPUs: items, IsComplete: complete}
		}), nil
	case ipc.MessageGetGPUStaticInfo:
		gpus, err := s.collector.GPUStatic(ctx)
		if err != nil {
			return snapshot{}, err
		}
		return sliceSnapshot(gpus, func(items []ipc.GPUStaticInfo, complete bool) ipc.Content {
			return ipc.GPUStaticChunk{GPUs: items, IsComplete: complete}
		}), nil
	case ipc.MessageGetGPUDynamicInfo:
		gpus, err := s.collector.GPUDynamic(ctx)
		if err != nil {
			return snapshot{}, err
		}
		return sliceSnapshot(gpus, func(items []ipc.GPUDynamicInfo, complete bool) ipc.Content {
			return ipc.GPUDynamicChunk{GPUs: items, IsComplete: complete}
		}), nil
	}
	return snapshot{}, fmt.Errorf("%s is not a chunked message", message)
}

// nextChunk encodes the next chunk of request's stream. A reset flag,
// a different message, or a finished stream starts a fresh snapshot.
// Chunks hold at most the tag's capacity and are halved until they fit
// the endpoint.
func (s *Server) nextChunk(ctx context.Context, request ipc.Request) (ipc.ContentTag, []byte, error) {
	current := s.stream
	if current == nil || request.StreamReset() || current.message != request.Message || current.done {
		collected, err := s.collect(ctx, request.Message)
		if err != nil {
			s.stream = nil
			return ipc.ContentNone, nil, fmt.Errorf("collecting %s: %w", request.Message, err)
		}
		current = &stream{
			message:  request.Message,
			snapshot: collected,
			limit:    ipc.ChunkCapacity(request.Message.ExpectedContent()),
		}
		s.stream = current
	}

	tag := request.Message.ExpectedContent()
	count := min(current.limit, current.snapshot.length-current.next)
	for {
		end := current.next + count
		complete := end == current.snapshot.length
		payload, err := s.encode(current.snapshot.chunk(current.next, end, complete))
		if err != nil {
			return ipc.ContentNone, nil, err
		}
		if len(payload) > s.endpoint.capacity() {
			if count <= 1 {
				return ipc.ContentNone, nil, fmt.Errorf("%s item %d alone exceeds %d bytes", request.Message, current.next, s.endpoint.capacity())
			}
			count /= 2
			current.limit = count
			continue
		}
		current.next = end
		current.done = complete
		return tag, payload, nil
	}
}
