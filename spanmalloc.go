// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package spanmalloc is a general-purpose, multi-threaded, lock-free
// dynamic memory allocator built on span-based virtual memory mapping,
// a process-wide size-class table, per-thread heaps, and a global span
// cache shared between them.
//
// "Thread" means the calling goroutine for as long as it holds a heap:
// ThreadInitialize locks it to its OS thread for that duration, the
// closest approximation of one-heap-per-OS-thread Go allows without cgo.
package spanmalloc

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

var (
	initMu      sync.Mutex
	initialized atomic.Bool
)

// Initialize brings up the process-wide allocator state: the size-class
// table, the VMM, and the heap registry. It must be called exactly once
// before any other exported function, and returns ErrAlreadyInitialized if
// called again without an intervening Finalize.
func Initialize(cfg Config) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized.Load() {
		return ErrAlreadyInitialized
	}
	if !cfg.UseFullAddressRange && is64BitAddressSpace {
		return ErrAddressRangeTooLarge
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	activeConfig = cfg

	defaultMapper = newDefaultMapper()
	buildSizeClassTable()

	initialized.Store(true)
	logger().Info("spanmalloc initialized",
		zap.Int("size_classes", len(sizeClassTable)),
		zap.Uint32("medium_size_limit", mediumSizeLimit),
		zap.Bool("detailed_statistics", cfg.EnableDetailedStatistics),
	)
	return nil
}

// Finalize tears down process-wide state. Heaps already bound to live
// goroutines are left as-is; callers are expected to have called
// ThreadFinalize on every participating goroutine first.
func Finalize() {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized.Load() {
		return
	}

	logger().Info("spanmalloc finalized")
	initialized.Store(false)
	activeConfig = Config{}
}

// options carries the per-call flags from spec.md section 6's flag set.
type options struct {
	align      uintptr
	zero       bool
	noPreserve bool
}

// Option customizes a single Allocate/Reallocate call.
type Option func(*options)

// WithAlignment requests a block whose address is a multiple of align
// (align must be a power of two); the allocator may return a more aligned
// block than requested but never less.
func WithAlignment(align uintptr) Option {
	return func(o *options) { o.align = align }
}

// WithZero requests that the returned memory be zero-filled.
func WithZero() Option {
	return func(o *options) { o.zero = true }
}

// WithNoPreserve tells Reallocate it does not need to preserve the
// original block's contents, so when the reallocation has to move to a new
// block the old contents are not copied into it.
func WithNoPreserve() Option {
	return func(o *options) { o.noPreserve = true }
}

func resolveOptions(opts []Option) options {
	var o options
	for _, apply := range opts {
		apply(&o)
	}
	return o
}

// Allocate returns a pointer to a block of at least size bytes, or nil if
// the allocator could not satisfy the request (spec.md section 6: "fail
// locally, return null").
func Allocate(size uintptr, opts ...Option) unsafe.Pointer {
	if !initialized.Load() {
		logger().Error("allocate before Initialize", zap.Error(ErrNotInitialized))
		return nil
	}
	o := resolveOptions(opts)
	h := currentHeap()
	if h == nil {
		return nil
	}
	p := h.allocate(size, o.zero)
	return alignedOrRealloc(h, p, size, o)
}

// alignedOrRealloc re-routes through the oversize path when the caller
// asked for an alignment the size-class table's fixed block boundaries
// cannot guarantee; oversize spans start on a spanGranularity boundary, a
// far stronger guarantee than any requested alignment this module accepts.
func alignedOrRealloc(h *heap, p unsafe.Pointer, size uintptr, o options) unsafe.Pointer {
	if p == nil || o.align == 0 {
		return p
	}
	if uintptr(p)%o.align == 0 {
		return p
	}
	h.deallocate(p)
	return h.allocateOversize(size, o.zero)
}

// Reallocate resizes the block at p to newSize, preserving min(old, new)
// bytes of content unless WithNoPreserve was passed, and returns a (possibly
// different) pointer. Reallocate(nil, n) behaves like Allocate(n);
// Reallocate(p, 0) behaves like Deallocate(p) and returns nil.
//
// If the existing block already holds newSize bytes and no alignment was
// requested, p is returned unchanged. Otherwise the block moves through
// allocate -> copy -> deallocate. A foreign-heap pointer is never
// special-cased on either path, so the old block's release naturally takes
// the cross-thread deferred path (spec.md section 9's open question,
// resolved in favor of the simpler uniform path).
func Reallocate(p unsafe.Pointer, newSize uintptr, opts ...Option) unsafe.Pointer {
	if p == nil {
		return Allocate(newSize, opts...)
	}
	if newSize == 0 {
		Deallocate(p)
		return nil
	}

	o := resolveOptions(opts)
	oldSize := UsableSize(p)
	if oldSize >= newSize && o.align == 0 {
		return p
	}

	newPtr := Allocate(newSize, opts...)
	if newPtr == nil {
		return nil
	}
	if !o.noPreserve {
		n := oldSize
		if newSize < n {
			n = newSize
		}
		copyMemory(newPtr, p, n)
	}
	Deallocate(p)
	return newPtr
}

// Deallocate releases a block previously returned by Allocate/Reallocate.
// Deallocate(nil) is a no-op.
func Deallocate(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if !initialized.Load() {
		logger().Error("deallocate after Finalize or before Initialize", zap.Error(ErrNotInitialized))
		return
	}
	h := currentHeap()
	h.deallocate(p)
}

// UsableSize returns the number of bytes usable at p without risking
// corruption of adjacent blocks, which may exceed the size originally
// requested (spec.md section 6).
func UsableSize(p unsafe.Pointer) uintptr {
	if p == nil {
		return 0
	}
	s := spanFromPointer(p)
	if s.isOversize() {
		return oversizeUsableSize(s)
	}
	return uintptr(s.blockSize)
}

func copyMemory(dst, src unsafe.Pointer, n uintptr) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

// Allocator is an isolated instance for tests that want to exercise the
// allocator without touching the package-level singleton state that
// Initialize installs. It shares the global size-class table (computed
// once and immutable) but owns a private heap and VMM.
type Allocator struct {
	h *heap
}

// NewAllocator builds an isolated allocator bound to a private heap, using
// mapper for all virtual-memory requests. It is the seam tests use to
// substitute a fake vmMapper.
func NewAllocator(mapper vmMapper) *Allocator {
	if sizeClassTable == nil {
		buildSizeClassTable()
	}

	id := nextHeapID.Add(1)
	h := newHeap(id)
	h.mapper = mapper
	registerHeap(h)
	return &Allocator{h: h}
}

func (a *Allocator) Allocate(size uintptr, opts ...Option) unsafe.Pointer {
	o := resolveOptions(opts)
	p := a.h.allocate(size, o.zero)
	return alignedOrRealloc(a.h, p, size, o)
}

func (a *Allocator) Deallocate(p unsafe.Pointer) {
	a.h.deallocate(p)
}

func (a *Allocator) UsableSize(p unsafe.Pointer) uintptr {
	return UsableSize(p)
}

// Close drains the allocator's heap, releasing whatever spans it was still
// holding back to its own mapper.
func (a *Allocator) Close() {
	a.h.drain()
}
