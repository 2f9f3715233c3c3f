// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command spanstress drives the multi-thread stress scenarios spec.md
// section 8 describes (S1-S6), the ones go test -race alone can't exercise
// because they need real OS thread parallelism and long-running loops
// rather than table-driven assertions. Grounded on the sectioned
// benchmark-driver style of
// other_examples/3c993fd0_CPU-JIA-go-mastery__07-runtime-internals-03-memory-allocator-main.go.go
// (one function per scenario, a shared stats summary printed at the end),
// restructured as cobra subcommands the way the rest of the pack's CLI
// tools are shaped.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
