// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Span metadata.
//
// A span is a contiguous, spanGranularity-aligned run of OS pages. Its
// header lives at byte 0 of the span's own memory (not in a side table),
// so any interior pointer recovers the owning span by masking off the low
// spanGranularityBits bits. See the package comment in spanmalloc.go for
// the overview and spec.md
// section 3 for the data model this mirrors.
package spanmalloc

import (
	"sync/atomic"
	"unsafe"
)

// spanState names the cache tier a span currently occupies (spec.md
// section 4.9). Unlike the teacher's mspan, which tracks GC sweep state,
// this state machine tracks only which cache tier owns the span right now;
// it is touched exclusively by whichever heap currently holds the span, so
// it needs no atomic type of its own.
type spanState uint8

const (
	spanFreeCached spanState = iota
	spanEmptyInHeapCache
	spanPartial
	spanFull
)

// spanOffset is a signed multiple of spanGranularity, expressing an
// intrusive-list neighbour relative to the span that stores it. Using a
// typed offset rather than a raw pointer keeps span metadata relocatable
// and keeps pointer arithmetic encapsulated behind span.neighbour /
// span.setNext / span.setPrev (spec.md section 9's design note), the same way
// gvisor's pkg/sentry/mm wraps addresses in a dedicated type instead of
// passing raw uintptr around.
type spanOffset int32

// span is the header written at the base of every span. Fields before
// freelistHead are accessed from the allocation/deallocation fast path and
// grouped first for cache locality, mirroring the teacher's mcache layout
// comment ("the following members are accessed on every malloc").
//
// A *span is never created with new or &span{}; every instance is an
// unsafe.Pointer cast over memory the VMM already mapped, so the struct
// must stay a value type with no Go-heap-owned fields (no slices, maps, or
// interfaces) and no field may require write barriers.
type span struct {
	// heapID is the id of the heap that currently owns this span. It is
	// the only field on this struct a foreign thread may touch, so it is
	// published with release ordering and read with acquire ordering
	// (spec.md section 5).
	heapID atomic.Uint64

	sizeClass  int32  // index into the process-wide size-class table, or oversizeClass
	blockSize  uint32 // cached copy of sizeClassTable[sizeClass].blockSize; 0 for oversize
	pageCount  uint32 // number of OS pages this span spans; doubles as the oversize page count (spec.md section 4.8 co-opts this field)
	blockCount uint32 // total blocks carved from this span
	freeCount  uint32 // blocks currently free

	// freelistHead is the index of the first explicitly-freed block, or
	// noBlock if the explicit freelist is empty. bumpIndex is the next
	// never-yet-touched block; blocks in [bumpIndex, blockCount) are
	// implicitly free without needing a link word written into them yet
	// (spec.md section 4.3 step 6's "auto-link terminator").
	freelistHead uint32
	bumpIndex    uint32

	// cacheCount is cleared whenever the span is reset or emptied; no
	// code path stores a list length in it. Cache list lengths are kept
	// in heap.spanCacheCount and in the global cache's packed word.
	cacheCount uint32

	state spanState

	// prevOffset/nextOffset are the intrusive list links. Their meaning
	// depends on which list currently holds the span (partial list,
	// heap span cache, or global span cache); a span is a member of at
	// most one list at a time.
	prevOffset spanOffset
	nextOffset spanOffset
}

// spanHeaderSize is the number of bytes the header occupies at the base of
// every span, rounded up to block-size-class-friendly alignment.
var spanHeaderSize = alignUp(uint32(unsafe.Sizeof(span{})), blockSizeStep)

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}

// base returns the span's own base address.
func (s *span) base() uintptr {
	return uintptr(unsafe.Pointer(s))
}

// spanFromPointer recovers the span owning p by masking off the low
// spanGranularityBits bits (spec.md section 3's central invariant).
func spanFromPointer(p unsafe.Pointer) *span {
	base := uintptr(p) &^ uintptr(spanGranularityMask)
	return (*span)(unsafe.Pointer(base))
}

// blockAt returns a pointer to block index i within the span.
func (s *span) blockAt(i uint32) unsafe.Pointer {
	payload := s.base() + uintptr(spanHeaderSize)
	return unsafe.Pointer(payload + uintptr(i)*uintptr(s.blockSize))
}

// blockIndex returns the block index containing p, assuming p lies within
// this span's payload.
func (s *span) blockIndex(p unsafe.Pointer) uint32 {
	payload := s.base() + uintptr(spanHeaderSize)
	delta := uintptr(p) - payload
	return uint32(delta / uintptr(s.blockSize))
}

// linkWord returns the uint32 at the start of free block i, which holds the
// index of the next free block and threads the block onto the span's
// intrusive freelist (spec.md section 3's "free
// block" definition, grounded on the teacher's gclink/gclinkptr in
// mcache.go).
func (s *span) linkWord(i uint32) *uint32 {
	return (*uint32)(s.blockAt(i))
}

// popFree removes and returns a free block index from the span, preferring
// the explicit freelist before falling back to the never-touched tail
// (spec.md section 4.3 step 6). ok is false if the span has no free block.
func (s *span) popFree() (idx uint32, ok bool) {
	if s.freelistHead != noBlock {
		idx = s.freelistHead
		s.freelistHead = *s.linkWord(idx)
		s.freeCount--
		return idx, true
	}
	if s.bumpIndex < s.blockCount {
		idx = s.bumpIndex
		s.bumpIndex++
		s.freeCount--
		return idx, true
	}
	return 0, false
}

// pushFree returns block index i to the span's intrusive freelist
// (spec.md section 4.4's local dealloc path).
func (s *span) pushFree(i uint32) {
	*s.linkWord(i) = s.freelistHead
	s.freelistHead = i
	s.freeCount++
}

// resetFresh initializes a span's freelist state as if it had just been
// carved fresh from the VMM or a cache, with every block available through
// popFree (spec.md section 4.3 steps 6-7); the caller still takes block 0
// through the ordinary popFree path, exactly like any other allocation.
func (s *span) resetFresh(class int32, blockSize, pageCount, blockCount uint32) {
	s.sizeClass = class
	s.blockSize = blockSize
	s.pageCount = pageCount
	s.blockCount = blockCount
	s.freeCount = blockCount
	s.freelistHead = noBlock
	s.bumpIndex = 0
	s.cacheCount = 0
	s.state = spanPartial
	s.prevOffset = 0
	s.nextOffset = 0
}

// neighbour resolves an intrusive list offset relative to s into the span
// it names, or nil if off encodes "no neighbour".
func (s *span) neighbour(off spanOffset) *span {
	if off == 0 {
		return nil
	}
	addr := int64(s.base()) + int64(off)*spanGranularity
	return (*span)(unsafe.Pointer(uintptr(addr)))
}

// setNext links s to other in the "next" direction of whichever list s
// currently belongs to.
func (s *span) setNext(other *span) {
	s.nextOffset = offsetBetween(s, other)
}

// setPrev links s to other in the "prev" direction of whichever list s
// currently belongs to.
func (s *span) setPrev(other *span) {
	s.prevOffset = offsetBetween(s, other)
}

func (s *span) next() *span { return s.neighbour(s.nextOffset) }
func (s *span) prev() *span { return s.neighbour(s.prevOffset) }

func offsetBetween(from, to *span) spanOffset {
	if to == nil {
		return 0
	}
	delta := (int64(to.base()) - int64(from.base())) / spanGranularity
	return spanOffset(delta)
}

// isOversize reports whether the span was obtained via the oversize path
// rather than the size-class table (spec.md section 4.4 step 2).
func (s *span) isOversize() bool {
	return s.sizeClass == oversizeClass
}
