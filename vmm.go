// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Virtual-memory mapper: the only component that talks to the OS.
//
// Contract grounded on spec.md section 4.1. The teacher's own sysAlloc/
// sysMap live in runtime/internal/sys, unimportable from outside the
// standard library, so the implementation is grounded instead on
// other_examples/fc5dcc64_SnellerInc-sneller__vm-malloc.go.go (syscall.Mmap
// with MAP_PRIVATE|MAP_ANONYMOUS, Mprotect to decommit) and
// other_examples/0c4a8d71_dsmmcken-dh-cli__src-internal-vm-uffd_linux.go.go's
// unix mmap/munmap wrapper style, using golang.org/x/sys/unix instead of
// the raw syscall package.
package spanmalloc

import (
	"unsafe"

	"github.com/pkg/errors"
)

// ErrMapFailed names the failure to obtain a page-aligned, span-aligned
// region from the OS. The mappers in this package do not return it: a
// failed map yields the OS error wrapped with context instead.
var ErrMapFailed = errors.New("spanmalloc: virtual memory map failed")

// vmMapper is the seam between the allocator and the OS. The default
// implementation is platform-specific (see vmm_unix.go, vmm_other.go);
// tests substitute a fake to exercise cache-overflow paths without
// touching real OS memory.
type vmMapper interface {
	// Map returns the base of a fresh, spanGranularity-aligned region
	// spanning pageCount OS pages, or an error if the OS refused.
	Map(pageCount uint32) (unsafe.Pointer, error)
	// Unmap releases a region previously returned by Map.
	Unmap(base unsafe.Pointer, pageCount uint32)
}

// defaultMapper is the process-wide VMM instance, installed by Initialize.
var defaultMapper vmMapper

// mapSpan requests pageCount pages worth of fresh, span-aligned memory from
// mapper.
func mapSpan(mapper vmMapper, pageCount uint32) (*span, error) {
	base, err := mapper.Map(pageCount)
	if err != nil {
		return nil, errors.Wrap(err, "spanmalloc: map span")
	}
	statsPagesMapped(pageCount)
	return (*span)(base), nil
}

// unmapSpan releases a span's memory back to the OS via mapper.
func unmapSpan(mapper vmMapper, s *span, pageCount uint32) {
	mapper.Unmap(unsafe.Pointer(s), pageCount)
	statsPagesUnmapped(pageCount)
}
