// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets periodic code run against a fake time source.
//
// Components that sample on an interval take a [Clock] field and fall
// back to [Real] when it is nil. Tests pass a [FakeClock] and drive it
// with Advance, using WaitForTimers to avoid racing the goroutine that
// registers the ticker.
package clock
