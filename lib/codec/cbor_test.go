// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"testing"
)

type sample struct {
	Name    string  `json:"name"`
	Load    float64 `json:"load,omitempty"`
	Members []int   `json:"members,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	value := sample{Name: "cpu0", Load: 0.75, Members: []int{1, 2, 3}}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}

	var decoded sample
	if err := Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Name != "cpu0" || decoded.Load != 0.75 || len(decoded.Members) != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestMarshalBounded(t *testing.T) {
	value := sample{Name: "a fairly long name that will not fit"}

	if _, err := MarshalBounded(value, 8); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("MarshalBounded(limit 8) error = %v, want ErrTooLarge", err)
	}

	data, err := MarshalBounded(value, 1024)
	if err != nil {
		t.Fatalf("MarshalBounded(limit 1024): %v", err)
	}
	if len(data) > 1024 {
		t.Errorf("encoded %d bytes past the limit", len(data))
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var decoded sample
	if err := Unmarshal([]byte{0xff, 0xfe, 0xfd}, &decoded); err == nil {
		t.Error("Unmarshal accepted invalid CBOR")
	}
}

func TestOmitempty(t *testing.T) {
	full, err := Marshal(sample{Name: "x", Load: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	sparse, err := Marshal(sample{Name: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(sparse) >= len(full) {
		t.Errorf("omitempty field still encoded: sparse %d bytes, full %d bytes", len(sparse), len(full))
	}
}
