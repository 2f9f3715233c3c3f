// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Global span cache: one lock-free stack per page-count class, holding
// spans released by threads so other threads can reuse them without
// touching the OS (spec.md section 4.5).
package spanmalloc

import (
	"sync/atomic"
	"unsafe"
)

// globalCacheLockWord marks a page-count class's cache as being walked by
// an extraction in progress (spec.md section 4.5's "a lock sentinel value
// protects multi-step reads").
const globalCacheLockWord = ^uint64(0)

type globalSpanCache struct {
	// word packs (head span base, count) per spec.md section 4.5;
	// classes[pageCount] is the stack for spans of exactly pageCount
	// pages (1..maxPagesPerSpan).
	classes [maxPagesPerSpan + 1]atomic.Uint64
}

var globalCache globalSpanCache

// push returns a single span to the global cache for its page count.
func (g *globalSpanCache) push(s *span, pageCount uint32) {
	g.pushList(s, s, 1, pageCount)
}

// pushList returns a chain [head..tail] of n spans linked via nextOffset to
// the global cache for pageCount pages in a single CAS (spec.md section
// 4.4's "release half to the global cache" batches a chain this way).
func (g *globalSpanCache) pushList(head, tail *span, n uint32, pageCount uint32) {
	slot := &g.classes[pageCount]
	for {
		old := slot.Load()
		if old == globalCacheLockWord {
			continue
		}
		oldBase := unpackGSCBase(old)
		oldCount := unpackGSCCount(old)

		var oldHead *span
		if oldBase != 0 {
			oldHead = (*span)(unsafe.Pointer(oldBase))
		}
		tail.setNext(oldHead)
		if oldHead != nil {
			oldHead.setPrev(tail)
		}

		newCount := oldCount + n
		overflow := uint32(0)
		if newCount > globalCacheHighWater {
			overflow = newCount - globalCacheHighWater
			newCount = globalCacheHighWater
		}

		newWord := packGSCWord(head.base(), newCount)
		if slot.CompareAndSwap(old, newWord) {
			if overflow > 0 {
				g.releaseOverflow(head, newCount, overflow, pageCount)
			}
			statsGlobalCacheDepth(pageCount, int64(newCount))
			return
		}
	}
}

// releaseOverflow walks from the published head of the combined list to the
// keep'th node (the new tail the list retains), severs everything past it,
// and unmaps that severed remainder: those are the oldest spans in the
// list, now past the high-water mark. Walking via next() the whole way
// matters here: next() is the "toward older entries" direction both lists
// and pop() agree on, so starting from head rather than from the tail of
// the just-pushed batch is what actually reaches the true oldest spans
// instead of clipping into the batch that was just published.
func (g *globalSpanCache) releaseOverflow(head *span, keep uint32, overflow uint32, pageCount uint32) {
	retainTail := head
	for i := uint32(1); i < keep; i++ {
		retainTail = retainTail.next()
	}
	victim := retainTail.next()
	retainTail.setNext(nil)

	for cur := victim; cur != nil; {
		next := cur.next()
		unmapSpan(defaultMapper, cur, pageCount)
		cur = next
	}
}

// pop extracts up to max spans of the given page count, returning the head
// of the extracted chain and how many were extracted.
func (g *globalSpanCache) pop(pageCount uint32, max uint32) (*span, uint32) {
	slot := &g.classes[pageCount]
	for {
		old := slot.Load()
		if old == globalCacheLockWord {
			continue
		}
		base := unpackGSCBase(old)
		if base == 0 {
			return nil, 0
		}
		count := unpackGSCCount(old)

		if !slot.CompareAndSwap(old, globalCacheLockWord) {
			continue
		}

		head := (*span)(unsafe.Pointer(base))
		take := count
		if take > max {
			take = max
		}

		cur := head
		var last *span
		for i := uint32(0); i < take; i++ {
			last = cur
			cur = cur.next()
		}
		// cur now points at the first span left behind (or nil).
		if cur != nil {
			cur.setPrev(nil)
		}
		last.setNext(nil)

		remaining := count - take
		var newWord uint64
		if cur != nil {
			newWord = packGSCWord(cur.base(), remaining)
		} else {
			newWord = packGSCWord(0, 0)
		}
		slot.Store(newWord)
		statsGlobalCacheDepth(pageCount, int64(remaining))
		return head, take
	}
}
