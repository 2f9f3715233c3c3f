// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import (
	"sync"
	"unsafe"
)

// fakeMapper satisfies vmMapper over plain Go-heap-allocated, manually
// aligned byte slices, so tests can exercise span/heap/cache logic without
// real mmap calls. Grounded on the stretchr/testify-based pack repos'
// pattern of substituting an in-memory fake for the real I/O boundary.
type fakeMapper struct {
	mu    sync.Mutex
	owned map[unsafe.Pointer][]byte
}

func newFakeMapper() *fakeMapper {
	return &fakeMapper{owned: make(map[unsafe.Pointer][]byte)}
}

func (f *fakeMapper) Map(pageCount uint32) (unsafe.Pointer, error) {
	want := uintptr(pageCount) * osPageSize
	raw := make([]byte, want+spanGranularity)

	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + spanGranularityMask) &^ spanGranularityMask
	p := unsafe.Pointer(aligned)

	f.mu.Lock()
	f.owned[p] = raw
	f.mu.Unlock()

	return p, nil
}

func (f *fakeMapper) Unmap(base unsafe.Pointer, pageCount uint32) {
	f.mu.Lock()
	delete(f.owned, base)
	f.mu.Unlock()
}
