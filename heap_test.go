// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestHeap(mapper vmMapper) *heap {
	id := nextHeapID.Add(1)
	h := newHeap(id)
	h.mapper = mapper
	registerHeap(h)
	return h
}

func TestHeapAllocateReturnsDistinctPointers(t *testing.T) {
	h := newTestHeap(newFakeMapper())

	a := h.allocate(32, false)
	b := h.allocate(32, false)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotEqual(t, a, b)
}

func TestHeapAllocateZeroFills(t *testing.T) {
	h := newTestHeap(newFakeMapper())

	p := h.allocate(64, false)
	b := (*[64]byte)(p)
	for i := range b {
		b[i] = 0xAB
	}
	h.deallocate(p)

	q := h.allocate(64, true)
	qb := (*[64]byte)(q)
	for i, v := range qb {
		require.Zero(t, v, "byte %d not zeroed", i)
	}
}

func TestHeapAllocateDeallocateReusesBlock(t *testing.T) {
	h := newTestHeap(newFakeMapper())

	p := h.allocate(32, false)
	h.deallocate(p)
	q := h.allocate(32, false)
	require.Equal(t, p, q, "freeing the only live block should make it the next pop")
}

func TestHeapSpanMovesToPartialAfterFullThenFreed(t *testing.T) {
	h := newTestHeap(newFakeMapper())

	class, ok := classFor(32)
	require.True(t, ok)
	blockCount := sizeClassTable[class].blockCount

	ptrs := make([]unsafe.Pointer, 0, blockCount)
	var s *span
	for i := uint32(0); i < blockCount; i++ {
		p := h.allocate(32, false)
		require.NotNil(t, p)
		if s == nil {
			s = spanFromPointer(p)
		}
		ptrs = append(ptrs, p)
	}
	require.Equal(t, spanFull, s.state)
	require.Nil(t, h.partial[class], "a full span must not remain on the partial list")

	h.deallocate(ptrs[0])
	require.Equal(t, spanPartial, s.state)
	require.Same(t, s, h.partial[class])
}

func TestHeapSpanCachesWhenFullyFreed(t *testing.T) {
	h := newTestHeap(newFakeMapper())

	class, ok := classFor(32)
	require.True(t, ok)
	blockCount := sizeClassTable[class].blockCount
	pageCount := sizeClassTable[class].pageCount

	ptrs := make([]unsafe.Pointer, 0, blockCount)
	for i := uint32(0); i < blockCount; i++ {
		p := h.allocate(32, false)
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		h.deallocate(p)
	}

	require.Nil(t, h.partial[class])
	require.Equal(t, uint32(1), h.spanCacheCount[pageCount])
}

func TestHeapDeferredCrossHeapFree(t *testing.T) {
	owner := newTestHeap(newFakeMapper())
	foreign := newTestHeap(newFakeMapper())

	p := owner.allocate(32, false)
	require.NotNil(t, p)

	// A block deallocated through a different heap must not be freed
	// locally by the foreign heap; it goes onto the owner's deferred
	// queue instead, and is only reclaimed on the owner's next drain.
	foreign.deallocate(p)

	s := spanFromPointer(p)
	require.Equal(t, owner.id, s.heapID.Load())

	owner.drainDeferred()
	q := owner.allocate(32, false)
	require.Equal(t, p, q, "the deferred free should have returned the block to owner's freelist")
}

func TestHeapOversizeAllocateAndDeallocate(t *testing.T) {
	h := newTestHeap(newFakeMapper())

	size := uintptr(spanGranularity) * 2
	p := h.allocateOversize(size, false)
	require.NotNil(t, p)

	s := spanFromPointer(p)
	require.True(t, s.isOversize())
	require.GreaterOrEqual(t, oversizeUsableSize(s), size)

	h.deallocate(p)
}
