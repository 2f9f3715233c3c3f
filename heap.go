// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Thread heap: one per participating thread. Owns per-size-class
// freelists of partially used spans and per-page-count freelists of empty
// spans (spec.md section 2, "Thread Heap (TH)"). Grounded structurally on
// the teacher's mcache (alloc [numSpanClasses]*mspan, refill-on-miss); the
// explicit free()/deferred-queue drain steps have no teacher analogue
// since the real Go runtime frees only via GC sweep, not an explicit call,
// so those steps are grounded on spec.md sections 4.3-4.4 directly.
package spanmalloc

import "sync/atomic"

// heap is process-wide, immortal once created (spec.md section 4.7:
// "Heap memory is never returned to the OS"). A heap is bound to at most
// one goroutine/OS-thread at a time via tls.go, but its memory stays valid
// forever so that a foreign heap id found on a span header is always safe
// to dereference.
type heap struct {
	id uint64

	// partial holds, per size class, the head of the list of spans with
	// at least one free block.
	partial [maxSizeClasses]*span

	// spanCache holds, per page count, the head of the list of fully
	// empty spans this heap is holding for reuse, plus how many it's
	// holding (spec.md section 4.4's heap-local cache tier).
	spanCache      [maxPagesPerSpan + 1]*span
	spanCacheCount [maxPagesPerSpan + 1]uint32

	// pending is the optional "pending span" optimization (spec.md
	// section 9, Config.HeapPendingSuperblock): one slot per heap. The
	// first span to become fully free while the slot is empty is held
	// here instead of filed into spanCache; the next allocation into any
	// class with the same page count takes it ahead of spanCache and
	// re-carves it with resetFresh. See heap_alloc.go/heap_free.go.
	pending *span

	deferred deferredQueue

	// registry and orphan-list linkage.
	registryNext  *heap
	registryIndex uint32
	orphanNext    atomic.Pointer[heap]

	lockedOSThread bool

	// mapper overrides defaultMapper for this heap's span requests when
	// non-nil. Only set by NewAllocator, so isolated test allocators never
	// touch the process-wide VMM or race with Initialize/Finalize.
	mapper vmMapper
}

// vmm returns the mapper this heap should use for span requests.
func (h *heap) vmm() vmMapper {
	if h.mapper != nil {
		return h.mapper
	}
	return defaultMapper
}

// newHeap allocates heap bookkeeping. The heap struct itself is ordinary
// Go-heap memory (unlike span, which is placed over mmap'd bytes): heaps
// are process-singleton metadata, not user-facing allocations, so there is
// no reason to deny them to the garbage collector.
func newHeap(id uint64) *heap {
	h := &heap{id: id}
	for i := range h.partial {
		h.partial[i] = nil
	}
	return h
}

// acquireHeap implements spec.md section 4.3 step 1: pop an orphaned heap
// if one is available, otherwise create a fresh one.
func acquireHeap() *heap {
	if h := popOrphan(); h != nil {
		return h
	}
	id := nextHeapID.Add(1)
	h := newHeap(id)
	registerHeap(h)
	return h
}

var nextHeapID atomic.Uint64

// spanCachePush adds a fully-free span to this heap's per-page-count
// cache, flushing half to the global cache once heapCacheHighWater is
// exceeded (spec.md section 4.4).
func (h *heap) spanCachePush(s *span, pageCount uint32) {
	s.state = spanEmptyInHeapCache
	s.setNext(h.spanCache[pageCount])
	if h.spanCache[pageCount] != nil {
		h.spanCache[pageCount].setPrev(s)
	}
	s.setPrev(nil)
	h.spanCache[pageCount] = s
	h.spanCacheCount[pageCount]++

	// A heap with its own private mapper (NewAllocator's isolated test
	// heaps) never shares spans through the process-wide global cache:
	// the cache has no way to remember which mapper a span came from, and
	// a span handed to a different mapper's Unmap would be a use-after-
	// free against the real OS mapping.
	if h.mapper == nil && h.spanCacheCount[pageCount] > heapCacheHighWater {
		h.flushHalfToGlobal(pageCount)
	}
}

func (h *heap) flushHalfToGlobal(pageCount uint32) {
	n := h.spanCacheCount[pageCount] / 2
	if n == 0 {
		return
	}
	head := h.spanCache[pageCount]
	cur := head
	var tail *span
	for i := uint32(0); i < n; i++ {
		tail = cur
		cur = cur.next()
	}
	if cur != nil {
		cur.setPrev(nil)
	}
	tail.setNext(nil)

	h.spanCache[pageCount] = cur
	h.spanCacheCount[pageCount] -= n

	globalCache.pushList(head, tail, n, pageCount)
}

// spanCachePop removes and returns a fully-free span from this heap's
// cache for pageCount pages, or nil if it's empty.
func (h *heap) spanCachePop(pageCount uint32) *span {
	s := h.spanCache[pageCount]
	if s == nil {
		return nil
	}
	next := s.next()
	if next != nil {
		next.setPrev(nil)
	}
	h.spanCache[pageCount] = next
	h.spanCacheCount[pageCount]--
	return s
}

// partialPush installs s as the head of the partial list for class.
func (h *heap) partialPush(class int32, s *span) {
	s.state = spanPartial
	s.setNext(h.partial[class])
	if h.partial[class] != nil {
		h.partial[class].setPrev(s)
	}
	s.setPrev(nil)
	h.partial[class] = s
}

// partialUnlink removes s from the partial list for class.
func (h *heap) partialUnlink(class int32, s *span) {
	prev, next := s.prev(), s.next()
	if prev != nil {
		prev.setNext(next)
	} else {
		h.partial[class] = next
	}
	if next != nil {
		next.setPrev(prev)
	}
	s.setPrev(nil)
	s.setNext(nil)
}

// drain releases all cached state back toward the global cache (or, for an
// isolated heap, its own mapper) and marks the heap ready to be orphaned
// (spec.md section 4.7's thread-exit path).
func (h *heap) drain() {
	h.drainDeferred() // return every block a foreign thread pushed here since the last drain to this heap's own lists before it goes idle.

	if h.pending != nil {
		h.spanCachePush(h.pending, h.pending.pageCount)
		h.pending = nil
	}

	for pageCount := uint32(1); pageCount <= maxPagesPerSpan; pageCount++ {
		if h.spanCache[pageCount] == nil {
			continue
		}
		if h.mapper != nil {
			// Isolated heap: release straight back to its own mapper
			// rather than mixing into the shared global cache.
			for cur := h.spanCache[pageCount]; cur != nil; {
				next := cur.next()
				unmapSpan(h.mapper, cur, pageCount)
				cur = next
			}
		} else {
			globalCache.pushList(h.spanCache[pageCount], lastOf(h.spanCache[pageCount]), h.spanCacheCount[pageCount], pageCount)
		}
		h.spanCache[pageCount] = nil
		h.spanCacheCount[pageCount] = 0
	}
}

func lastOf(s *span) *span {
	cur := s
	for cur.next() != nil {
		cur = cur.next()
	}
	return cur
}
