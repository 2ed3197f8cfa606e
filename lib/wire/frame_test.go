// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

func TestFrameCompression(t *testing.T) {
	payload := []byte(strings.Repeat("/usr/lib/firefox/firefox -contentproc ", 512))

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			var buffer bytes.Buffer
			if err := WriteFrame(&buffer, Frame{Kind: 3, Sequence: 42, Payload: payload}, compression); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}
			if compression != CompressionNone && buffer.Len() >= len(payload) {
				t.Errorf("%s frame is %d bytes for a %d byte repetitive payload", compression, buffer.Len(), len(payload))
			}
			if got := Compression(buffer.Bytes()[1]); got != compression {
				t.Errorf("header compression = %s, want %s", got, compression)
			}

			frame, err := ReadFrame(&buffer)
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if frame.Kind != 3 || frame.Sequence != 42 || !bytes.Equal(frame.Payload, payload) {
				t.Errorf("frame mismatch: kind %d sequence %d, %d payload bytes", frame.Kind, frame.Sequence, len(frame.Payload))
			}
		})
	}
}

func TestSmallFramesAreNotCompressed(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, Frame{Kind: 1, Payload: []byte("tiny")}, CompressionZstd); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if Compression(buffer.Bytes()[1]) != CompressionNone {
		t.Error("small payload was compressed")
	}
}

func TestReadFrameEndOfStream(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Errorf("empty stream: got %v, want io.EOF", err)
	}

	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, Frame{Kind: 1, Payload: []byte("partial body")}, CompressionNone); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	cut := buffer.Bytes()[:buffer.Len()-4]
	if _, err := ReadFrame(bytes.NewReader(cut)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("cut stream: got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadFrameRejectsHugeLength(t *testing.T) {
	header := make([]byte, frameHeaderSize)
	header[13] = 0xff
	if _, err := ReadFrame(bytes.NewReader(header)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestRequestFrame(t *testing.T) {
	request := ipc.Request{Message: ipc.MessageKillProcessTree, Flags: ipc.FlagStreamReset, Argument: 4242}
	parsed, err := ParseRequest(RequestFrame(9, request))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if parsed != request {
		t.Errorf("parsed %+v, want %+v", parsed, request)
	}

	if _, err := ParseRequest(Frame{Kind: 200, Payload: make([]byte, requestBodySize)}); !errors.Is(err, ErrMalformed) {
		t.Errorf("unknown message: got %v, want ErrMalformed", err)
	}
}
