// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"math/rand"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/mjansson/spanmalloc"
)

func newRandomCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "random",
		Short: "S2: random-sized allocate/write/verify/free",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()
			teardown, err := setupAllocator(logger)
			if err != nil {
				return err
			}
			defer teardown()

			r := runRandom(flags.seed, count)
			printSummary("random", r)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 8192, "number of random-sized requests")
	return cmd
}

// runRandom implements spec.md section 8's S2: pre-generate a table of
// sizes in [0, 8192) from a seeded PRNG, then allocate, write, verify, and
// free each one in turn, one block live at a time.
func runRandom(seed int64, count int) scenarioResult {
	spanmalloc.ThreadInitialize()
	defer spanmalloc.ThreadFinalize()

	start := time.Now()
	var r scenarioResult

	rng := rand.New(rand.NewSource(seed))
	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = rng.Intn(8192)
	}

	for i, sz := range sizes {
		p := spanmalloc.Allocate(uintptr(sz))
		r.allocations++
		if sz > 0 && p == nil {
			r.failures++
			continue
		}
		if sz == 0 {
			spanmalloc.Deallocate(p)
			continue
		}

		b := unsafe.Slice((*byte)(p), sz)
		fillPattern(b, seed, 0, i)
		if !checkPattern(b, seed, 0, i) {
			r.failures++
		}
		spanmalloc.Deallocate(p)
	}

	r.duration = time.Since(start)
	return r
}
