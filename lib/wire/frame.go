// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// Frame header layout (little-endian):
//
//	0  kind         u8   ipc.Message on requests, ipc.ContentTag on replies
//	1  compression  u8
//	2  sequence     u32  request sequence; replies echo it
//	6  raw length   u32  body length before compression
//	10 body length  u32  bytes that follow the header
const (
	frameHeaderSize = 14
	requestBodySize = 12
)

// MaxFrameLength bounds a frame's payload, before and after
// compression.
const MaxFrameLength = 16 << 20

// ErrFrameTooLarge is returned for frames whose declared length exceeds
// the protocol maximum.
var ErrFrameTooLarge = errors.New("frame too large")

// Frame is one unit on the socket transport.
type Frame struct {
	Kind     uint8
	Sequence uint32
	Payload  []byte
}

// WriteFrame writes frame to w, compressing the payload with preferred
// when that makes it smaller.
func WriteFrame(w io.Writer, frame Frame, preferred Compression) error {
	if len(frame.Payload) > MaxFrameLength {
		return fmt.Errorf("writing frame of %d bytes: %w", len(frame.Payload), ErrFrameTooLarge)
	}
	body, compression, err := compress(frame.Payload, preferred)
	if err != nil {
		return fmt.Errorf("compressing frame: %w", err)
	}

	buffer := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	buffer[0] = frame.Kind
	buffer[1] = byte(compression)
	binary.LittleEndian.PutUint32(buffer[2:], frame.Sequence)
	binary.LittleEndian.PutUint32(buffer[6:], uint32(len(frame.Payload)))
	binary.LittleEndian.PutUint32(buffer[10:], uint32(len(body)))
	buffer = append(buffer, body...)

	_, err = w.Write(buffer)
	return err
}

// ReadFrame reads one frame from r. A clean end of stream before any
// header byte returns io.EOF unchanged so callers can recognise a
// disconnect; a stream cut mid-frame returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	rawLength := binary.LittleEndian.Uint32(header[6:])
	bodyLength := binary.LittleEndian.Uint32(header[10:])
	if rawLength > MaxFrameLength || bodyLength > MaxFrameLength {
		return Frame{}, fmt.Errorf("reading frame (raw %d, body %d bytes): %w", rawLength, bodyLength, ErrFrameTooLarge)
	}

	body := make([]byte, bodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	payload, err := decompress(body, Compression(header[1]), int(rawLength))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return Frame{
		Kind:     header[0],
		Sequence: binary.LittleEndian.Uint32(header[2:]),
		Payload:  payload,
	}, nil
}

// RequestFrame packs a request into a frame: the message is the kind
// and the body holds flags and argument.
func RequestFrame(sequence uint32, request ipc.Request) Frame {
	body := make([]byte, requestBodySize)
	binary.LittleEndian.PutUint32(body[0:], uint32(request.Flags))
	binary.LittleEndian.PutUint64(body[4:], uint64(request.Argument))
	return Frame{Kind: uint8(request.Message), Sequence: sequence, Payload: body}
}

// ParseRequest is the inverse of RequestFrame.
func ParseRequest(frame Frame) (ipc.Request, error) {
	if len(frame.Payload) != requestBodySize {
		return ipc.Request{}, fmt.Errorf("%w: request body is %d bytes, want %d", ErrMalformed, len(frame.Payload), requestBodySize)
	}
	message := ipc.Message(frame.Kind)
	if !message.Valid() {
		return ipc.Request{}, fmt.Errorf("%w: unknown message %d", ErrMalformed, frame.Kind)
	}
	return ipc.Request{
		Message:  message,
		Flags:    ipc.RequestFlags(binary.LittleEndian.Uint32(frame.Payload[0:])),
		Argument: int64(binary.LittleEndian.Uint64(frame.Payload[4:])),
	}, nil
}

// ReplyFrame encodes content into a reply frame echoing sequence.
func ReplyFrame(sequence uint32, content ipc.Content) (Frame, error) {
	payload, err := EncodeContent(content)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: uint8(content.Tag()), Sequence: sequence, Payload: payload}, nil
}
