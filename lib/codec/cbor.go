// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ErrTooLarge is returned by MarshalBounded when the encoding does not
// fit in the caller's limit.
var ErrTooLarge = errors.New("encoded value exceeds limit")

// Decoder limits. Payloads cross a process boundary and may come from a
// worker that is misbehaving, so the decoder refuses shapes far beyond
// anything a legitimate reply contains.
const (
	maxArrayElements = 1 << 16
	maxMapPairs      = 1 << 12
	maxNestedLevels  = 32
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core Deterministic Encoding (RFC 8949 §4.2): the same payload
	// always produces the same bytes, which keeps shared-memory
	// checksums stable across identical samples.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: maxArrayElements,
		MaxMapPairs:      maxMapPairs,
		MaxNestedLevels:  maxNestedLevels,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// MarshalBounded encodes v and fails with ErrTooLarge when the result
// is longer than limit bytes. Writers into fixed-size regions use it so
// that overflow is an error, never a truncation.
func MarshalBounded(v any, limit int) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		return nil, fmt.Errorf("%d bytes, limit %d: %w", len(data), limit, ErrTooLarge)
	}
	return data, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
