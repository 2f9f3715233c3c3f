// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAllocatorAllocateDeallocate(t *testing.T) {
	a := NewAllocator(newFakeMapper())
	defer a.Close()

	p := a.Allocate(128)
	require.NotNil(t, p)
	require.GreaterOrEqual(t, a.UsableSize(p), uintptr(128))

	a.Deallocate(p)
}

func TestAllocatorOversizeRequest(t *testing.T) {
	a := NewAllocator(newFakeMapper())
	defer a.Close()

	size := uintptr(spanGranularity) * 3
	p := a.Allocate(size)
	require.NotNil(t, p)
	require.GreaterOrEqual(t, a.UsableSize(p), size)
	a.Deallocate(p)
}

func TestAllocatorZeroOption(t *testing.T) {
	a := NewAllocator(newFakeMapper())
	defer a.Close()

	p := a.Allocate(256)
	b := unsafe.Slice((*byte)(p), 256)
	for i := range b {
		b[i] = 0xFF
	}
	a.Deallocate(p)

	q := a.Allocate(256, WithZero())
	qb := unsafe.Slice((*byte)(q), 256)
	for i, v := range qb {
		require.Zero(t, v, "byte %d not zeroed under WithZero", i)
	}
}

func TestAllocatorNilDeallocateIsNoop(t *testing.T) {
	a := NewAllocator(newFakeMapper())
	defer a.Close()
	a.Deallocate(nil)
}

func TestAllocatorConcurrentAllocateDeallocate(t *testing.T) {
	// A heap is bound to one goroutine at a time, so each goroutine runs
	// its own Allocator; they still share the process-wide registry and
	// size-class table concurrently.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := NewAllocator(newFakeMapper())
			defer a.Close()
			for j := 0; j < 64; j++ {
				p := a.Allocate(48)
				require.NotNil(t, p)
				a.Deallocate(p)
			}
		}()
	}
	wg.Wait()
}

func TestInitializeFinalizeLifecycle(t *testing.T) {
	require.NoError(t, Initialize(DefaultConfig()))
	defer Finalize()

	require.ErrorIs(t, Initialize(DefaultConfig()), ErrAlreadyInitialized)
}

func TestAllocateDeallocateThroughPackageAPI(t *testing.T) {
	require.NoError(t, Initialize(DefaultConfig()))
	defer Finalize()
	defer ThreadFinalize()

	p := Allocate(96)
	require.NotNil(t, p)
	require.GreaterOrEqual(t, UsableSize(p), uintptr(96))

	Deallocate(p)
}

func TestReallocateGrowsAndPreservesContent(t *testing.T) {
	require.NoError(t, Initialize(DefaultConfig()))
	defer Finalize()
	defer ThreadFinalize()

	p := Allocate(16)
	require.NotNil(t, p)
	b := unsafe.Slice((*byte)(p), 16)
	for i := range b {
		b[i] = byte(i)
	}

	q := Reallocate(p, 256)
	require.NotNil(t, q)
	qb := unsafe.Slice((*byte)(q), 16)
	for i := range qb {
		require.Equal(t, byte(i), qb[i])
	}
	Deallocate(q)
}

func TestReallocateToZeroDeallocates(t *testing.T) {
	require.NoError(t, Initialize(DefaultConfig()))
	defer Finalize()
	defer ThreadFinalize()

	p := Allocate(32)
	require.Nil(t, Reallocate(p, 0))
}

func TestReallocateNilActsAsAllocate(t *testing.T) {
	require.NoError(t, Initialize(DefaultConfig()))
	defer Finalize()
	defer ThreadFinalize()

	p := Reallocate(nil, 64)
	require.NotNil(t, p)
	Deallocate(p)
}

func TestAllocateBeforeInitializeReturnsNil(t *testing.T) {
	require.Nil(t, Allocate(16))
}

func TestInitializeRejectsUseFullAddressRangeFalseOn64Bit(t *testing.T) {
	if !is64BitAddressSpace {
		t.Skip("only meaningful on a 64-bit build")
	}
	cfg := DefaultConfig()
	cfg.UseFullAddressRange = false
	require.ErrorIs(t, Initialize(cfg), ErrAddressRangeTooLarge)
}
