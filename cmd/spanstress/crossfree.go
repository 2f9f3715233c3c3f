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

var crossfreeSizes = []int{19, 249, 797, 3, 79, 34, 389}

func newCrossfreeCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "crossfree",
		Short: "S4: one goroutine allocates, a different one frees after the owner exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()
			teardown, err := setupAllocator(logger)
			if err != nil {
				return err
			}
			defer teardown()

			r := runCrossfree(flags.seed, count)
			printSummary("crossfree", r)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 100*1024, "blocks allocated by the owning goroutine")
	return cmd
}

// runCrossfree implements spec.md section 8's S4: the calling goroutine
// binds its own heap first, then goroutine A allocates count blocks sized
// from crossfreeSizes plus seed%64, then calls ThreadFinalize and returns,
// orphaning its heap; only once A has fully exited does the calling
// goroutine free every block. Because the caller already holds a different
// heap, those frees take the deferred-deallocation queue's cross-heap path
// (heap_free.go's deallocate) rather than the local free fast path.
func runCrossfree(seed int64, count int) scenarioResult {
	start := time.Now()
	var r scenarioResult

	spanmalloc.ThreadInitialize()
	defer spanmalloc.ThreadFinalize()

	ptrs := make([]unsafe.Pointer, count)
	done := make(chan struct{})

	go func() {
		defer close(done)
		spanmalloc.ThreadInitialize()
		defer spanmalloc.ThreadFinalize()

		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < count; i++ {
			sz := crossfreeSizes[rng.Intn(len(crossfreeSizes))] + int(seed%64)
			ptrs[i] = spanmalloc.Allocate(uintptr(sz))
		}
	}()
	<-done

	for _, p := range ptrs {
		r.allocations++
		if p == nil {
			r.failures++
			continue
		}
		spanmalloc.Deallocate(p)
	}

	r.duration = time.Since(start)
	return r
}
