// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bureau-foundation/sysmon/lib/ipc"
)

// ErrMalformed is returned when a payload does not decode under the
// record layout: truncated fields, absurd lengths, or trailing bytes.
var ErrMalformed = errors.New("malformed record")

// Decoder sanity bounds. Real records are far below all of them.
const (
	maxStringLength = 1 << 20
	maxListLength   = 1 << 16
	maxTreeDepth    = 1024
)

// recordWriter appends little-endian fields to a byte slice.
type recordWriter struct {
	buffer []byte
}

func (w *recordWriter) u8(value byte) {
	w.buffer = append(w.buffer, value)
}

func (w *recordWriter) u32(value uint32) {
	w.buffer = binary.LittleEndian.AppendUint32(w.buffer, value)
}

func (w *recordWriter) f32(value float32) {
	w.u32(math.Float32bits(value))
}

func (w *recordWriter) str(value string) {
	w.u32(uint32(len(value)))
	w.buffer = append(w.buffer, value...)
}

func (w *recordWriter) usage(usage ipc.Usage) {
	w.f32(usage.CPU)
	w.f32(usage.Memory)
	w.f32(usage.Disk)
	w.f32(usage.Network)
	w.f32(usage.GPU)
}

func (w *recordWriter) process(process *ipc.Process) {
	w.str(process.Name)
	w.u32(uint32(len(process.Cmd)))
	for _, argument := range process.Cmd {
		w.str(argument)
	}
	w.str(process.Exe)
	w.u8(process.State)
	w.u32(process.PID)
	w.u32(process.ParentPID)
	w.u32(uint32(len(process.Children)))
	for index := range process.Children {
		w.process(&process.Children[index])
	}
	w.usage(process.Usage)
}

func (w *recordWriter) app(app *ipc.App) {
	w.str(app.Name)
	w.str(app.Icon)
	w.str(app.ID)
	w.str(app.Command)
	w.str(app.Exec)
	w.u32(uint32(len(app.PIDs)))
	for _, pid := range app.PIDs {
		w.u32(pid)
	}
	w.usage(app.Usage)
}

// recordReader consumes fields in the same order. The first failure is
// sticky: later reads return zero values and err stays set.
type recordReader struct {
	data   []byte
	offset int
	err    error
}

func (r *recordReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s at offset %d", ErrMalformed, fmt.Sprintf(format, args...), r.offset)
	}
}

func (r *recordReader) take(count int) []byte {
	if r.err != nil {
		return nil
	}
	if count < 0 || len(r.data)-r.offset < count {
		r.fail("need %d bytes, have %d", count, len(r.data)-r.offset)
		return nil
	}
	slice := r.data[r.offset : r.offset+count]
	r.offset += count
	return slice
}

func (r *recordReader) u8() byte {
	slice := r.take(1)
	if slice == nil {
		return 0
	}
	return slice[0]
}

func (r *recordReader) u32() uint32 {
	slice := r.take(4)
	if slice == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(slice)
}

func (r *recordReader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *recordReader) count(limit int) int {
	value := r.u32()
	if int64(value) > int64(limit) {
		r.fail("count %d exceeds %d", value, limit)
		return 0
	}
	return int(value)
}

func (r *recordReader) str() string {
	length := r.count(maxStringLength)
	return string(r.take(length))
}

func (r *recordReader) usage() ipc.Usage {
	return ipc.Usage{
		CPU:     r.f32(),
		Memory:  r.f32(),
		Disk:    r.f32(),
		Network: r.f32(),
		GPU:     r.f32(),
	}
}

func (r *recordReader) process(depth int) ipc.Process {
	if depth > maxTreeDepth {
		r.fail("process tree deeper than %d", maxTreeDepth)
		return ipc.Process{}
	}
	var process ipc.Process
	process.Name = r.str()
	if arguments := r.count(maxListLength); arguments > 0 {
		process.Cmd = make([]string, 0, arguments)
		for range arguments {
			process.Cmd = append(process.Cmd, r.str())
		}
	}
	process.Exe = r.str()
	process.State = r.u8()
	process.PID = r.u32()
	process.ParentPID = r.u32()
	if children := r.count(maxListLength); children > 0 {
		process.Children = make([]ipc.Process, 0, children)
		for range children {
			if r.err != nil {
				break
			}
			process.Children = append(process.Children, r.process(depth+1))
		}
	}
	process.Usage = r.usage()
	return process
}

func (r *recordReader) app() ipc.App {
	var app ipc.App
	app.Name = r.str()
	app.Icon = r.str()
	app.ID = r.str()
	app.Command = r.str()
	app.Exec = r.str()
	if pids := r.count(maxListLength); pids > 0 {
		app.PIDs = make([]uint32, 0, pids)
		for range pids {
			app.PIDs = append(app.PIDs, r.u32())
		}
	}
	app.Usage = r.usage()
	return app
}

func (r *recordReader) finish() error {
	if r.err == nil && r.offset != len(r.data) {
		r.fail("%d trailing bytes", len(r.data)-r.offset)
	}
	return r.err
}

// MarshalProcess encodes one process record, children included.
func MarshalProcess(process ipc.Process) []byte {
	var writer recordWriter
	writer.process(&process)
	return writer.buffer
}

// UnmarshalProcess decodes a record produced by MarshalProcess. The
// whole input must be consumed.
func UnmarshalProcess(data []byte) (ipc.Process, error) {
	reader := recordReader{data: data}
	process := reader.process(0)
	if err := reader.finish(); err != nil {
		return ipc.Process{}, err
	}
	return process, nil
}

// MarshalApp encodes one app record.
func MarshalApp(app ipc.App) []byte {
	var writer recordWriter
	writer.app(&app)
	return writer.buffer
}

// UnmarshalApp decodes a record produced by MarshalApp.
func UnmarshalApp(data []byte) (ipc.App, error) {
	reader := recordReader{data: data}
	app := reader.app()
	if err := reader.finish(); err != nil {
		return ipc.App{}, err
	}
	return app, nil
}

func chunkHeader(writer *recordWriter, complete bool, count int) {
	if complete {
		writer.u8(1)
	} else {
		writer.u8(0)
	}
	writer.u32(uint32(count))
}

func marshalProcessChunk(chunk ipc.ProcessChunk) []byte {
	var writer recordWriter
	chunkHeader(&writer, chunk.IsComplete, len(chunk.Processes))
	for index := range chunk.Processes {
		writer.process(&chunk.Processes[index])
	}
	return writer.buffer
}

func unmarshalProcessChunk(data []byte) (ipc.ProcessChunk, error) {
	reader := recordReader{data: data}
	chunk := ipc.ProcessChunk{IsComplete: reader.u8() != 0}
	count := reader.count(ipc.ProcessChunkCapacity)
	chunk.Processes = make([]ipc.Process, 0, count)
	for range count {
		if reader.err != nil {
			break
		}
		chunk.Processes = append(chunk.Processes, reader.process(0))
	}
	if err := reader.finish(); err != nil {
		return ipc.ProcessChunk{}, err
	}
	return chunk, nil
}

func marshalAppChunk(chunk ipc.AppChunk) []byte {
	var writer recordWriter
	chunkHeader(&writer, chunk.IsComplete, len(chunk.Apps))
	for index := range chunk.Apps {
		writer.app(&chunk.Apps[index])
	}
	return writer.buffer
}

func unmarshalAppChunk(data []byte) (ipc.AppChunk, error) {
	reader := recordReader{data: data}
	chunk := ipc.AppChunk{IsComplete: reader.u8() != 0}
	count := reader.count(ipc.AppChunkCapacity)
	chunk.Apps = make([]ipc.App, 0, count)
	for range count {
		if reader.err != nil {
			break
		}
		chunk.Apps = append(chunk.Apps, reader.app())
	}
	if err := reader.finish(); err != nil {
		return ipc.AppChunk{}, err
	}
	return chunk, nil
}
