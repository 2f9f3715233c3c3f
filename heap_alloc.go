// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Thread heap allocation fast path (spec.md section 4.3). Grounded on
// mcache.go's alloc/refill split: consult the per-class cache first, fall
// back to a slower acquisition path only on a miss.
package spanmalloc

import "unsafe"

// allocate implements spec.md section 4.3 in full: drain the deferred
// queue, then satisfy the request from the partial list, the heap span
// cache, the global span cache, or a fresh VMM mapping, in that order.
func (h *heap) allocate(size uintptr, zero bool) unsafe.Pointer {
	h.drainDeferred()

	if size > uintptr(mediumSizeLimit) {
		return h.allocateOversize(size, zero)
	}
	class, ok := classFor(uint32(size))
	if !ok {
		return h.allocateOversize(size, zero)
	}

	s := h.partial[class]
	if s == nil {
		s = h.acquireSpanForClass(class)
		if s == nil {
			return nil
		}
	}
	return h.allocFromSpan(class, s, zero)
}

// acquireSpanForClass implements spec.md section 4.3 steps 3-6: heap span
// cache, then global span cache, then a fresh VMM mapping, carving whichever
// span results for class.
func (h *heap) acquireSpanForClass(class int32) *span {
	c := &sizeClassTable[class]

	var s *span
	if h.pending != nil && h.pending.pageCount == c.pageCount {
		s, h.pending = h.pending, nil
	}
	if s == nil {
		s = h.spanCachePop(c.pageCount)
	}
	if s == nil && h.mapper == nil {
		if cached, _ := globalCache.pop(c.pageCount, 1); cached != nil {
			s = cached
		}
	}
	if s == nil {
		mapped, err := mapSpan(h.vmm(), c.pageCount)
		if err != nil {
			return nil
		}
		s = mapped
	}

	s.resetFresh(class, c.blockSize, c.pageCount, c.blockCount)
	s.heapID.Store(h.id)
	h.partialPush(class, s)
	return s
}

// allocFromSpan pops one free block from s, retiring s from the partial
// list once it runs dry (spec.md section 4.3 step 7).
func (h *heap) allocFromSpan(class int32, s *span, zero bool) unsafe.Pointer {
	idx, ok := s.popFree()
	if !ok {
		// A span reached via the partial list must have a free block;
		// a miss here means bookkeeping drifted (spec.md section 4.9's
		// state-machine invariant).
		h.partialUnlink(class, s)
		return h.allocate(uintptr(sizeClassTable[class].blockSize), zero)
	}

	if s.freeCount == 0 {
		h.partialUnlink(class, s)
		s.state = spanFull
	}

	p := s.blockAt(idx)
	if zero {
		zeroMemory(p, uintptr(s.blockSize))
	}
	statsLiveBlocks(class, 1)
	return p
}

// zeroMemory clears n bytes starting at p. Grounded on the teacher's
// memclrNoHeapPointers (malloc.go): this module has no write-barrier
// concerns since spans are never tracked by the Go garbage collector, so a
// plain byte loop suffices.
func zeroMemory(p unsafe.Pointer, n uintptr) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}
