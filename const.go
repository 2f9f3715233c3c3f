// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

// Span granularity. Every span's base address is aligned to spanGranularity
// bytes, which lets any interior pointer recover its owning span's base by
// masking off the low spanGranularityBits bits (spec.md section 3's central
// invariant). A size-class span never exceeds one granule, so masking any
// of its block pointers lands on its base. An oversize span can cover many
// granules; only the pointer it hands out, which lies in its first granule,
// is ever masked back to its base.
const (
	spanGranularityBits = 16
	spanGranularity      = 1 << spanGranularityBits // 64 KiB
	spanGranularityMask  = spanGranularity - 1
)

// SpanGranularity is the alignment every span base (including the span of
// every oversize allocation) is mapped on. The pointer an allocation
// returns is not itself on this boundary: it sits after the span header,
// spanHeaderSize bytes past the span base for an oversize allocation.
const SpanGranularity = spanGranularity

// osPageSize is the assumed OS page size. The VMM (vmm_unix.go) sizes
// every mapping in units of this constant and does not query the
// platform's actual page size.
const osPageSize = 4096

// maxPagesPerSpan bounds how many OS pages a single span can hold without
// exceeding spanGranularity.
const maxPagesPerSpan = spanGranularity / osPageSize

// blockSizeStep is the granularity of the small size-class block sizes
// (spec.md section 4.2: "block size b = (i+1)*16").
const blockSizeStep = 16

// noBlock is the sentinel "no block" index, used both for an empty
// intrusive freelist head and for a span with no installed neighbour.
const noBlock = ^uint32(0)

// oversizeClass is the size-class sentinel stored in a span header when the
// span was obtained through the oversize path rather than the size-class
// table (spec.md section 4.8).
const oversizeClass = ^int32(0)

// heapCacheHighWater is the number of empty spans a single heap will hold
// per page-count class before flushing half of them to the global cache
// (spec.md section 4.4).
const heapCacheHighWater = 32

// globalCacheHighWater is the number of spans a single page-count class in
// the global cache will hold before excess spans are unmapped directly
// (spec.md section 4.5).
const globalCacheHighWater = 4096

// registryBuckets is the bucket count of the heap registry's hash table,
// keyed by heapID mod registryBuckets (spec.md section 4.7).
const registryBuckets = 256

// maxSizeClasses bounds the size of each heap's per-class partial-list
// array. The packing procedure in sizeclass.go merges adjacent classes
// with identical (page_count, block_count), so the real class count is
// well under this for any span granularity/page-size combination this
// module supports; buildSizeClassTable panics if it's ever exceeded rather
// than silently truncating the table.
const maxSizeClasses = 256
