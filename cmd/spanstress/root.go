// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjansson/spanmalloc"
)

// runFlags collects the persistent flags every scenario subcommand reads
// from the package-level flags value; size/count parameters are passed to
// each scenario function explicitly.
type runFlags struct {
	seed          int64
	detailedStats bool
	debug         bool
	pendingSpan   bool
	fullAddrRange bool
}

var flags runFlags

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spanstress",
		Short: "Stress-test driver for the spanmalloc allocator",
		Long: "spanstress runs the multi-thread allocation/deallocation scenarios\n" +
			"spec.md section 8 describes (S1 through S6), each as its own subcommand,\n" +
			"plus an \"all\" subcommand that runs every scenario in sequence.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().Int64Var(&flags.seed, "seed", 1, "base PRNG seed")
	cmd.PersistentFlags().BoolVar(&flags.detailedStats, "detailed-stats", false, "enable Prometheus counters/gauges during the run")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable double-free/corruption panics")
	cmd.PersistentFlags().BoolVar(&flags.pendingSpan, "pending-span", true, "hold one emptied span back per heap instead of caching it immediately")
	cmd.PersistentFlags().BoolVar(&flags.fullAddrRange, "full-address-range", true, "assume a 64-bit address space for intrusive span offsets")

	cmd.AddCommand(
		newSweepCmd(),
		newRandomCmd(),
		newMultithreadCmd(),
		newCrossfreeCmd(),
		newThreadspamCmd(),
		newOversizeCmd(),
		newAllCmd(),
	)
	return cmd
}

// newLogger builds the process logger every scenario shares, following
// Initialize's own convention of falling back to a no-op logger rather
// than failing the run over a logging misconfiguration.
func newLogger() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// setupAllocator brings up the package-level allocator for the duration of
// one scenario run and returns a teardown func; callers defer it.
func setupAllocator(logger *zap.Logger) (func(), error) {
	cfg := spanmalloc.DefaultConfig()
	cfg.Logger = logger
	cfg.EnableDetailedStatistics = flags.detailedStats
	cfg.Debug = flags.debug
	cfg.HeapPendingSuperblock = flags.pendingSpan
	cfg.UseFullAddressRange = flags.fullAddrRange

	if err := spanmalloc.Initialize(cfg); err != nil {
		return nil, errors.Wrap(err, "spanstress: initialize")
	}
	return spanmalloc.Finalize, nil
}

func printSummary(name string, r scenarioResult) {
	fmt.Printf("%s: %s\n", name, r.String())
}
