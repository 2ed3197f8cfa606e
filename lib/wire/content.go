// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/bureau-foundation/sysmon/lib/codec"
	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// EncodeContent serializes a reply payload. Chunks are validated
// against their capacity first, so an oversized chunk is an error on
// the writing side rather than a surprise for the reader.
func EncodeContent(content ipc.Content) ([]byte, error) {
	if chunk, ok := content.(ipc.Chunk); ok {
		if err := chunk.Validate(); err != nil {
			return nil, err
		}
	}
	switch value := content.(type) {
	case ipc.ProcessChunk:
		return marshalProcessChunk(value), nil
	case ipc.AppChunk:
		return marshalAppChunk(value), nil
	case ipc.CPUStaticInfo, ipc.CPUDynamicInfo, ipc.LogicalCPUChunk,
		ipc.GPUListChunk, ipc.GPUStaticChunk, ipc.GPUDynamicChunk,
		ipc.Acknowledgement:
		data, err := codec.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", content.Tag(), err)
		}
		return data, nil
	case nil:
		return nil, fmt.Errorf("encoding content: nil value")
	default:
		return nil, fmt.Errorf("encoding content: unsupported type %T", content)
	}
}

// DecodeContent is the inverse of EncodeContent for the variant named
// by tag. Decoded chunks are validated against their capacity.
func DecodeContent(tag ipc.ContentTag, data []byte) (ipc.Content, error) {
	var (
		content ipc.Content
		err     error
	)
	switch tag {
	case ipc.ContentProcesses:
		content, err = unmarshalProcessChunk(data)
	case ipc.ContentApps:
		content, err = unmarshalAppChunk(data)
	case ipc.ContentCPUStaticInfo:
		content, err = decodeCBOR[ipc.CPUStaticInfo](data)
	case ipc.ContentCPUDynamicInfo:
		content, err = decodeCBOR[ipc.CPUDynamicInfo](data)
	case ipc.ContentLogicalCPUs:
		content, err = decodeCBOR[ipc.LogicalCPUChunk](data)
	case ipc.ContentGPUList:
		content, err = decodeCBOR[ipc.GPUListChunk](data)
	case ipc.ContentGPUStaticInfo:
		content, err = decodeCBOR[ipc.GPUStaticChunk](data)
	case ipc.ContentGPUDynamicInfo:
		content, err = decodeCBOR[ipc.GPUDynamicChunk](data)
	case ipc.ContentAcknowledgement:
		content, err = decodeCBOR[ipc.Acknowledgement](data)
	default:
		return nil, fmt.Errorf("%w: unknown content tag %d", ErrMalformed, uint32(tag))
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", tag, err)
	}
	if chunk, ok := content.(ipc.Chunk); ok {
		if err := chunk.Validate(); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", tag, err)
		}
	}
	return content, nil
}

func decodeCBOR[T ipc.Content](data []byte) (ipc.Content, error) {
	var value T
	if err := codec.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return value, nil
}
