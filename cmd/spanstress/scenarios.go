// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"time"
)

// scenarioResult is the common summary every scenario returns, printed by
// printSummary the same way the teacher's benchmark driver prints one
// stats block per demonstration function.
type scenarioResult struct {
	allocations int64
	failures    int64
	liveAtEnd   int64
	duration    time.Duration
}

func (r scenarioResult) String() string {
	status := "PASS"
	if r.failures > 0 || r.liveAtEnd > 0 {
		status = "FAIL"
	}
	return fmt.Sprintf("%s (allocations=%d failures=%d live_at_end=%d elapsed=%s)",
		status, r.allocations, r.failures, r.liveAtEnd, r.duration)
}

// patternByte derives a deterministic fill byte from an allocation's
// identity, so a later pass can verify a block's content was never
// clobbered by a neighbour (spec.md section 8's "write a known pattern").
func patternByte(seed int64, iteration, index int) byte {
	h := uint64(seed)
	h = h*1099511628211 ^ uint64(iteration)
	h = h*1099511628211 ^ uint64(index)
	return byte(h)
}

// fillPattern fills all of b with the pattern derived from (seed,
// iteration, index).
func fillPattern(b []byte, seed int64, iteration, index int) {
	p := patternByte(seed, iteration, index)
	for i := range b {
		b[i] = p + byte(i)
	}
}

// checkPattern reports whether b still holds the pattern derived from
// (seed, iteration, index).
func checkPattern(b []byte, seed int64, iteration, index int) bool {
	p := patternByte(seed, iteration, index)
	for i := range b {
		if b[i] != p+byte(i) {
			return false
		}
	}
	return true
}
