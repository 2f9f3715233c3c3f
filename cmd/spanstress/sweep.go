// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/mjansson/spanmalloc"
)

func newSweepCmd() *cobra.Command {
	var outer, inner int
	var size uint

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "S1: sequential sized sweep on one goroutine",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()
			teardown, err := setupAllocator(logger)
			if err != nil {
				return err
			}
			defer teardown()

			r := runSweep(flags.seed, outer, inner, uintptr(size))
			printSummary("sweep", r)
			return nil
		},
	}

	cmd.Flags().IntVar(&outer, "outer", 64, "outer iteration count")
	cmd.Flags().IntVar(&inner, "inner", 8142, "blocks allocated per outer iteration")
	cmd.Flags().UintVar(&size, "size", 500, "block size in bytes")
	return cmd
}

type sweepEntry struct {
	p            unsafe.Pointer
	outer, index int
}

// runSweep implements spec.md section 8's S1: on one goroutine, loop outer
// times, allocating inner blocks of size bytes each pass, writing and later
// re-checking a per-block pattern, and verifying no two simultaneously-live
// blocks ever share a base address. The whole accumulated set is freed only
// once, on the final outer iteration, matching the scenario's "free all".
func runSweep(seed int64, outer, inner int, size uintptr) scenarioResult {
	spanmalloc.ThreadInitialize()
	defer spanmalloc.ThreadFinalize()

	start := time.Now()
	var r scenarioResult

	live := make([]sweepEntry, 0, outer*inner)
	seen := make(map[unsafe.Pointer]struct{}, outer*inner)

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			p := spanmalloc.Allocate(size)
			r.allocations++
			if p == nil {
				r.failures++
				continue
			}
			if _, dup := seen[p]; dup {
				r.failures++
				continue
			}
			seen[p] = struct{}{}

			b := unsafe.Slice((*byte)(p), size)
			fillPattern(b, seed, o, i)
			live = append(live, sweepEntry{p: p, outer: o, index: i})
		}

		if o == outer-1 {
			for _, e := range live {
				b := unsafe.Slice((*byte)(e.p), size)
				if !checkPattern(b, seed, e.outer, e.index) {
					r.failures++
				}
			}
			for _, e := range live {
				spanmalloc.Deallocate(e.p)
			}
			live = live[:0]
		}
	}

	r.liveAtEnd = int64(len(live))
	r.duration = time.Since(start)
	return r
}
