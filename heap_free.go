// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Thread heap deallocation fast path (spec.md section 4.4). Grounded on
// mcache.go's free path, generalized to the cross-thread case the teacher
// never needs (Go's GC frees by sweep, never by an explicit per-thread
// free call).
package spanmalloc

import "unsafe"

// deallocate recovers p's owning span by masking, then routes to the local
// free path if the calling heap owns it or to that heap's deferred queue
// otherwise (spec.md section 4.4 steps 1-3).
func (h *heap) deallocate(p unsafe.Pointer) {
	if p == nil {
		return
	}
	s := spanFromPointer(p)
	owner := s.heapID.Load()

	if s.isOversize() {
		ownerHeap := h
		if h == nil || owner != h.id {
			ownerHeap = lookupHeap(owner)
		}
		if ownerHeap == nil {
			return
		}
		deallocateOversize(ownerHeap, s)
		return
	}

	if h != nil && owner == h.id {
		h.localFree(s, p)
		return
	}

	ownerHeap := lookupHeap(owner)
	if ownerHeap == nil {
		// The owning heap is gone from the registry, which never
		// happens for a pointer this allocator produced (spec.md
		// section 4.7: heaps are immortal once registered).
		return
	}
	ownerHeap.deferred.push(p)
	statsDeferredPush()
}

// localFree returns block p to s's freelist, moving a FULL span back to
// PARTIAL and a span that becomes fully free into the heap's pending slot
// or its span cache (EMPTY_IN_HEAP_CACHE), after spec.md section 4.9's
// state table.
func (h *heap) localFree(s *span, p unsafe.Pointer) {
	class := s.sizeClass
	idx := s.blockIndex(p)
	wasFull := s.freeCount == 0

	if activeConfig.Debug && s.freeCount >= s.blockCount {
		// Every block in the span is already free: this call can only
		// be a double free or a corrupted pointer (spec.md section
		// 4.10's double-free/corruption assertions), matching the
		// teacher's throw(...) calls for invariant violations it
		// cannot otherwise recover from.
		panic(ErrInvalidPointer)
	}

	s.pushFree(idx)
	statsLiveBlocks(class, -1)

	switch {
	case wasFull:
		s.state = spanPartial
		h.partialPush(class, s)
	case s.freeCount == s.blockCount:
		h.partialUnlink(class, s)
		s.cacheCount = 0

		// Config.HeapPendingSuperblock (spec.md section 9): hold the
		// first span a class empties out to directly in the heap
		// instead of filing it in the span cache, on the bet that the
		// next allocation into this class will want exactly this
		// page count back immediately.
		if activeConfig.HeapPendingSuperblock && h.pending == nil {
			h.pending = s
			return
		}
		h.spanCachePush(s, s.pageCount)
	}
}

// drainDeferred implements spec.md section 4.3 step 2: reclaim every block
// pushed by foreign threads since this heap's last drain, freeing each one
// through the ordinary local path.
func (h *heap) drainDeferred() {
	node := h.deferred.drain()
	n := 0
	for node != nil {
		next := node.next
		p := unsafe.Pointer(node)
		s := spanFromPointer(p)
		h.localFree(s, p)
		node = next
		n++
	}
	if n > 0 {
		statsDeferredDrained(n)
	}
}
