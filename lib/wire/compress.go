// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a frame body is compressed. Values are
// written into frame headers and must not change.
type Compression uint8

const (
	// CompressionNone sends the body as-is.
	CompressionNone Compression = 0

	// CompressionLZ4 uses LZ4 block compression. Cheap enough to apply
	// to every large process chunk.
	CompressionLZ4 Compression = 1

	// CompressionZstd uses zstd at the default level. Better ratios on
	// the string-heavy app and process records at higher CPU cost.
	CompressionZstd Compression = 2
)

// compressionThreshold is the smallest body worth compressing.
// Single-shot CPU samples and acknowledgements stay below it.
const compressionThreshold = 4096

func (compression Compression) String() string {
	switch compression {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(compression))
	}
}

// ParseCompression parses the configuration spelling of a compression
// algorithm.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// errIncompressible means the compressed form was not smaller than the
// input; the frame is then sent uncompressed.
var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameLength))
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the compressed body and the algorithm actually used.
// Small or incompressible bodies fall back to CompressionNone.
func compress(data []byte, preferred Compression) ([]byte, Compression, error) {
	if preferred == CompressionNone || len(data) < compressionThreshold {
		return data, CompressionNone, nil
	}

	var (
		compressed []byte
		err        error
	)
	switch preferred {
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported compression %s", preferred)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, preferred, nil
}

// decompress reverses compress. rawLength must equal the original body
// length exactly.
func decompress(body []byte, compression Compression, rawLength int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(body) != rawLength {
			return nil, fmt.Errorf("uncompressed body is %d bytes, header says %d", len(body), rawLength)
		}
		return body, nil
	case CompressionLZ4:
		destination := make([]byte, rawLength)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawLength {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawLength)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(body, make([]byte, 0, rawLength))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != rawLength {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawLength)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", compression)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
