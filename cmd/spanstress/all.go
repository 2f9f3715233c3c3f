// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every scenario (S1-S6) in sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()
			teardown, err := setupAllocator(logger)
			if err != nil {
				return err
			}
			defer teardown()

			scenarios := []struct {
				name string
				run  func() scenarioResult
			}{
				{"sweep", func() scenarioResult { return runSweep(flags.seed, 64, 8142, 500) }},
				{"random", func() scenarioResult { return runRandom(flags.seed, 8192) }},
				{"multithread", func() scenarioResult { return runMultithread(flags.seed, 8, 100, 256, 500) }},
				{"crossfree", func() scenarioResult { return runCrossfree(flags.seed, 100*1024) }},
				{"threadspam", func() scenarioResult { return runThreadspam(64, 1000, 16) }},
				{"oversize", func() scenarioResult { return runOversize(flags.seed, 2<<20, 16) }},
			}

			failed := 0
			for _, s := range scenarios {
				r := s.run()
				printSummary(s.name, r)
				if r.failures > 0 || r.liveAtEnd > 0 {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios))
			}
			return nil
		},
	}
}
