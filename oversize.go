// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Oversize path: requests larger than the size-class table's ceiling map
// directly through the VMM instead of going through any cache tier (spec.md
// section 4.8). Grounded on mcache.go's allocLarge, which bypasses the
// per-class cache for the same reason: caching a rarely-repeated large size
// just holds memory other requests can't use.
package spanmalloc

import "unsafe"

// allocateOversize maps exactly enough pages to hold the header plus size
// bytes and returns a pointer to the payload.
func (h *heap) allocateOversize(size uintptr, zero bool) unsafe.Pointer {
	if addOverflows(size, uintptr(spanHeaderSize)) {
		return nil
	}
	total := size + uintptr(spanHeaderSize)
	pages := (total + osPageSize - 1) / osPageSize
	if pages > uintptr(^uint32(0)) {
		return nil
	}
	pageCount := uint32(pages)

	s, err := mapSpan(h.vmm(), pageCount)
	if err != nil {
		return nil
	}

	s.sizeClass = oversizeClass
	s.blockSize = 0
	s.pageCount = pageCount
	s.blockCount = 1
	s.freeCount = 0
	s.freelistHead = noBlock
	s.bumpIndex = 1
	s.state = spanFull
	s.prevOffset = 0
	s.nextOffset = 0
	s.heapID.Store(h.id)

	statsOversizeAlloc()
	statsLiveBlocks(oversizeClass, 1)

	p := s.blockAt(0)
	if zero {
		zeroMemory(p, size)
	}
	return p
}

// deallocateOversize releases an oversize span directly back to the VMM
// that mapped it; oversize spans never enter a cache tier (spec.md section
// 4.8).
func deallocateOversize(owner *heap, s *span) {
	statsLiveBlocks(oversizeClass, -1)
	unmapSpan(owner.vmm(), s, s.pageCount)
}

// oversizeUsableSize returns the payload capacity of an oversize span.
func oversizeUsableSize(s *span) uintptr {
	return uintptr(s.pageCount)*osPageSize - uintptr(spanHeaderSize)
}
