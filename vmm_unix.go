// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build unix

package spanmalloc

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// unixMapper maps spanGranularity-aligned regions by over-mapping a region
// one granule larger than needed and trimming the unaligned head and tail,
// the same over-map-and-trim strategy spec.md section 4.1 calls out as one
// of the two legal alignment strategies. Grounded on
// other_examples/fc5dcc64_SnellerInc-sneller__vm-malloc.go.go's init()
// (syscall.Mmap with MAP_PRIVATE|MAP_ANONYMOUS) and
// other_examples/0c4a8d71_dsmmcken-dh-cli__src-internal-vm-uffd_linux.go.go's
// unix-package mmap/munmap wrapper style.
type unixMapper struct{}

func newDefaultMapper() vmMapper { return unixMapper{} }

func (unixMapper) Map(pageCount uint32) (unsafe.Pointer, error) {
	want := uintptr(pageCount) * osPageSize
	over := want + spanGranularity

	raw, err := unix.Mmap(-1, 0, int(over), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}

	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + spanGranularityMask) &^ spanGranularityMask

	if head := aligned - base; head > 0 {
		if err := unix.Munmap(raw[:head]); err != nil {
			return nil, errors.Wrap(err, "munmap head trim")
		}
	}
	tailStart := aligned - base + want
	if tailStart < over {
		if err := unix.Munmap(raw[tailStart:over]); err != nil {
			return nil, errors.Wrap(err, "munmap tail trim")
		}
	}

	return unsafe.Pointer(aligned), nil
}

func (unixMapper) Unmap(base unsafe.Pointer, pageCount uint32) {
	size := uintptr(pageCount) * osPageSize
	mem := unsafe.Slice((*byte)(base), size)
	// Errors from munmap on a region we successfully mmap'd indicate a
	// process-level bug (double unmap, corrupted bookkeeping); there is
	// no recovery action available to the allocator, so the failure is
	// observable only through the optional statistics/logging path.
	_ = unix.Munmap(mem)
}
