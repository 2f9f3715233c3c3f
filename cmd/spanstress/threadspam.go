// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"sync"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/mjansson/spanmalloc"
)

func newThreadspamCmd() *cobra.Command {
	var threads, recycles, burst int

	cmd := &cobra.Command{
		Use:   "threadspam",
		Short: "S5: thread init/fini spam, heaps recycled through the orphan pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()
			teardown, err := setupAllocator(logger)
			if err != nil {
				return err
			}
			defer teardown()

			r := runThreadspam(threads, recycles, burst)
			printSummary("threadspam", r)
			return nil
		},
	}

	cmd.Flags().IntVar(&threads, "threads", 64, "concurrent goroutines")
	cmd.Flags().IntVar(&recycles, "recycles", 1000, "init/fini cycles per goroutine")
	cmd.Flags().IntVar(&burst, "burst", 16, "allocate/free pairs per cycle")
	return cmd
}

// runThreadspam implements spec.md section 8's S5: each of threads
// goroutines repeatedly binds a heap, does a small allocate/free burst,
// and releases the heap back to the orphan pool, recycles times over. The
// heap registry's orphan list (registry.go) is what makes this cheap: most
// cycles reuse an already-mapped heap instead of building a fresh one.
func runThreadspam(threads, recycles, burst int) scenarioResult {
	start := time.Now()

	results := make([]scenarioResult, threads)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var r scenarioResult
			for c := 0; c < recycles; c++ {
				spanmalloc.ThreadInitialize()

				ptrs := make([]unsafe.Pointer, 0, burst)
				for b := 0; b < burst; b++ {
					p := spanmalloc.Allocate(32)
					r.allocations++
					if p == nil {
						r.failures++
						continue
					}
					ptrs = append(ptrs, p)
				}
				for _, p := range ptrs {
					spanmalloc.Deallocate(p)
				}

				spanmalloc.ThreadFinalize()
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	var total scenarioResult
	for _, r := range results {
		total.allocations += r.allocations
		total.failures += r.failures
	}
	total.duration = time.Since(start)
	return total
}
