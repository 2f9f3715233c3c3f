// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestSpanFromPointerMasksToBase(t *testing.T) {
	mapper := newFakeMapper()
	base, err := mapper.Map(1)
	require.NoError(t, err)
	s := (*span)(base)

	for _, offset := range []uintptr{0, 1, uintptr(spanHeaderSize), uintptr(spanHeaderSize) + 17, spanGranularity - 1} {
		p := unsafe.Pointer(uintptr(base) + offset)
		require.Equal(t, s, spanFromPointer(p), "offset %d did not recover the span base", offset)
	}
}

func TestSpanPopPushFreeRoundTrip(t *testing.T) {
	mapper := newFakeMapper()
	base, err := mapper.Map(1)
	require.NoError(t, err)
	s := (*span)(base)
	s.resetFresh(0, 32, 1, 10)

	var got []uint32
	for {
		idx, ok := s.popFree()
		if !ok {
			break
		}
		got = append(got, idx)
	}
	require.Len(t, got, 10, "all ten fresh blocks should be poppable")
	require.Equal(t, uint32(0), s.freeCount)

	s.pushFree(got[0])
	idx, ok := s.popFree()
	require.True(t, ok)
	require.Equal(t, got[0], idx)
}

func TestSpanNeighbourLinks(t *testing.T) {
	mapper := newFakeMapper()
	baseA, err := mapper.Map(1)
	require.NoError(t, err)
	baseB, err := mapper.Map(1)
	require.NoError(t, err)

	a := (*span)(baseA)
	b := (*span)(baseB)
	a.resetFresh(0, 32, 1, 10)
	b.resetFresh(0, 32, 1, 10)

	a.setNext(b)
	require.Same(t, b, a.next())
	require.Nil(t, a.prev())

	a.setNext(nil)
	require.Nil(t, a.next())
}

func TestBlockAtAndBlockIndexRoundTrip(t *testing.T) {
	mapper := newFakeMapper()
	base, err := mapper.Map(1)
	require.NoError(t, err)
	s := (*span)(base)
	s.resetFresh(0, 48, 1, 20)

	for i := uint32(0); i < 20; i++ {
		p := s.blockAt(i)
		require.Equal(t, i, s.blockIndex(p))
	}
}
