// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Configuration, grounded on spec.md section 6's three named build-time
// switches and on the teacher's field-comment density in mheap.go/mcache.go
// (every field documents what it changes, not why it exists).
package spanmalloc

import (
	"unsafe"

	"go.uber.org/zap"
)

// Config controls process-wide allocator behavior. Every field's zero value
// is the conservative default except UseFullAddressRange: on a 64-bit build
// Config{} leaves it false, which Initialize rejects; DefaultConfig sets it
// to true there.
type Config struct {
	// EnableDetailedStatistics turns on the Prometheus counters/gauges in
	// stats.go. Off by default: the atomic increments on every allocate/
	// deallocate are measurable overhead on the hot path.
	EnableDetailedStatistics bool

	// UseFullAddressRange does not change the span-offset width:
	// spanOffset is an int32 multiple of spanGranularity in both modes,
	// and no 64-bit offset layout exists. The flag only controls whether
	// Initialize accepts the platform: on a 64-bit build, false makes
	// Initialize return ErrAddressRangeTooLarge.
	UseFullAddressRange bool

	// HeapPendingSuperblock enables the "pending span" slot (spec.md
	// section 9): the first span to become fully free while the heap's
	// single pending slot is empty is held there instead of filed into
	// the heap span cache, and the next allocation needing that page
	// count takes it first.
	HeapPendingSuperblock bool

	// Debug enables a double-free check on the local free path: freeing
	// into a span whose blocks are all already free panics with
	// ErrInvalidPointer.
	Debug bool

	// Logger receives structured diagnostics (Initialize/Finalize, heap
	// registration, orphan/adopt events, calls made while not
	// initialized). A nil Logger disables logging entirely via
	// zap.NewNop(), rather than requiring every call site to nil-check.
	Logger *zap.Logger
}

// is64BitAddressSpace reports whether uintptr is wide enough that the
// process's mapped range cannot be assumed to fit in 32 bits.
const is64BitAddressSpace = unsafe.Sizeof(uintptr(0)) > 4

// DefaultConfig returns the conservative, zero-overhead configuration.
// UseFullAddressRange defaults to true on a 64-bit build, since false
// requires a platform guarantee (a 32-bit address space) that amd64/arm64
// builds cannot make; see Initialize.
func DefaultConfig() Config {
	return Config{
		UseFullAddressRange: is64BitAddressSpace,
		Logger:              zap.NewNop(),
	}
}

var activeConfig Config

func logger() *zap.Logger {
	if activeConfig.Logger == nil {
		return zap.NewNop()
	}
	return activeConfig.Logger
}
