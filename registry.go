// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Heap registry and orphan list (spec.md section 4.7). The registry lets a
// foreign thread resolve a heap id loaded off a span header back to a
// *heap; the orphan list lets a thread that has just exited donate its
// heap to whichever thread initializes next, instead of leaking it.
//
// Grounded on mheap.go's allspans: a lock-free, append-only, CAS-published
// slice of every span the heap has ever handed out. This module does the
// same thing for heaps instead of spans, since heaps (like allspans
// entries) are never freed, only appended and later recycled.
package spanmalloc

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// registryBucketHeads holds the head of each hash chain. Insertion is a CAS loop on
// the bucket head; there is no removal, since heaps live for the process's
// lifetime (spec.md section 4.7: "heap memory is never returned to the
// OS"). Lookup therefore never races with a concurrent delete.
var registryBucketHeads [registryBuckets]atomic.Pointer[heap]

// registrySlots backs the orphan list's tagged index (tagged.go's
// orphanWord packs a slot index rather than a pointer, to sidestep any
// assumption about *heap alignment). Slots are appended under slotsMu and
// never removed; reads (slotHeap) also take slotsMu, since an append can
// reallocate the slice under a concurrent reader.
var (
	slotsMu       sync.Mutex
	registrySlots []*heap
)

// orphanHead is the orphan stack's single tagged word (tagged.go). Its
// zero value would decode to slot index 0, a valid registry slot rather
// than "empty" (orphanEmpty is all-ones, per tagged.go), so it is set
// explicitly to the empty sentinel before any heap can be registered.
var orphanHead atomic.Uint64

func init() {
	orphanHead.Store(uint64(emptyOrphanWord(0)))
}

// registerHeap publishes a freshly created heap into the lookup table and
// assigns it a registry slot for the orphan list.
func registerHeap(h *heap) {
	bucket := h.id % registryBuckets
	head := &registryBucketHeads[bucket]
	for {
		old := head.Load()
		h.registryNext = old
		if head.CompareAndSwap(old, h) {
			break
		}
	}

	slotsMu.Lock()
	h.registryIndex = uint32(len(registrySlots))
	registrySlots = append(registrySlots, h)
	slotsMu.Unlock()

	logger().Debug("heap registered", zap.Uint64("heap_id", h.id), zap.Uint32("registry_index", h.registryIndex))
}

// lookupHeap resolves a heap id read off a span header (spec.md section
// 4.4: "recover heap ownership and, if foreign, route through the deferred
// queue"). It never fails for a valid id, since heaps are immortal once
// registered.
func lookupHeap(id uint64) *heap {
	bucket := id % registryBuckets
	for h := registryBucketHeads[bucket].Load(); h != nil; h = h.registryNext {
		if h.id == id {
			return h
		}
	}
	return nil
}

// pushOrphan donates h to the orphan list on thread exit (spec.md section
// 4.7). The tag is bumped on every push so a concurrent popOrphan that read
// an earlier word can never mistake a pop-then-repush of the same slot for
// an unchanged stack (the ABA scenario tagged.go documents).
func pushOrphan(h *heap) {
	for {
		old := orphanHead.Load()
		oldWord := orphanWord(old)
		h.orphanNext.Store(orphanSlotHeap(oldWord.index()))

		newWord := packOrphanWord(h.registryIndex, oldWord.tag()+1)
		if orphanHead.CompareAndSwap(old, uint64(newWord)) {
			logger().Debug("heap orphaned", zap.Uint64("heap_id", h.id))
			return
		}
	}
}

// popOrphan adopts a previously orphaned heap, or returns nil if none is
// available (spec.md section 4.3 step 1).
func popOrphan() *heap {
	for {
		old := orphanHead.Load()
		oldWord := orphanWord(old)
		idx := oldWord.index()
		if idx == orphanEmpty {
			return nil
		}

		h := slotHeap(idx)
		next := h.orphanNext.Load()

		var nextIdx uint32 = orphanEmpty
		if next != nil {
			nextIdx = next.registryIndex
		}
		newWord := packOrphanWord(nextIdx, oldWord.tag()+1)
		if orphanHead.CompareAndSwap(old, uint64(newWord)) {
			h.orphanNext.Store(nil)
			logger().Debug("heap adopted from orphan list", zap.Uint64("heap_id", h.id))
			return h
		}
	}
}

// slotHeap resolves a registry slot index to its *heap. The slot was
// published with a release ordering implied by slotsMu's unlock happening
// before any tag referencing it is made visible via the CAS above.
func slotHeap(index uint32) *heap {
	slotsMu.Lock()
	h := registrySlots[index]
	slotsMu.Unlock()
	return h
}

// orphanSlotHeap is slotHeap with the orphanEmpty sentinel handled, for use
// when rebuilding an orphanNext link.
func orphanSlotHeap(index uint32) *heap {
	if index == orphanEmpty {
		return nil
	}
	return slotHeap(index)
}
