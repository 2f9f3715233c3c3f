// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"sync"
	"time"

	"github.com/spf13/cobra"
)

func newMultithreadCmd() *cobra.Command {
	var threads, outer, inner int
	var size uint

	cmd := &cobra.Command{
		Use:   "multithread",
		Short: "S3: concurrent alloc/free, one sweep per goroutine with a distinct seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()
			teardown, err := setupAllocator(logger)
			if err != nil {
				return err
			}
			defer teardown()

			r := runMultithread(flags.seed, threads, outer, inner, uintptr(size))
			printSummary("multithread", r)
			return nil
		},
	}

	cmd.Flags().IntVar(&threads, "threads", 8, "goroutine count (spec.md allows 3-32)")
	cmd.Flags().IntVar(&outer, "outer", 100, "outer iterations per thread's sweep")
	cmd.Flags().IntVar(&inner, "inner", 256, "blocks allocated per outer iteration")
	cmd.Flags().UintVar(&size, "size", 500, "block size in bytes")
	return cmd
}

// runMultithread implements spec.md section 8's S3: every goroutine runs
// its own complete sweep (spec.md section 8's S1), each against a distinct
// seed so their allocation patterns never collide, and none of them share
// a heap (each goroutine acquires its own via ThreadInitialize).
func runMultithread(seed int64, threads, outer, inner int, size uintptr) scenarioResult {
	start := time.Now()

	results := make([]scenarioResult, threads)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runSweep(seed+int64(i), outer, inner, size)
		}(i)
	}
	wg.Wait()

	var total scenarioResult
	for _, r := range results {
		total.allocations += r.allocations
		total.failures += r.failures
		total.liveAtEnd += r.liveAtEnd
	}
	total.duration = time.Since(start)
	return total
}
