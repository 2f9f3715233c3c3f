// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookupHeap(t *testing.T) {
	id := nextHeapID.Add(1)
	h := newHeap(id)
	registerHeap(h)

	got := lookupHeap(id)
	require.Same(t, h, got)
}

func TestLookupHeapMissReturnsNil(t *testing.T) {
	require.Nil(t, lookupHeap(^uint64(0)))
}

func TestOrphanPushPopRoundTrip(t *testing.T) {
	id := nextHeapID.Add(1)
	h := newHeap(id)
	registerHeap(h)

	pushOrphan(h)
	got := popOrphan()
	require.Same(t, h, got)
}

func TestOrphanPopEmptyReturnsNil(t *testing.T) {
	// Drain whatever the process-wide orphan list is currently holding
	// from other tests so this assertion is meaningful in isolation.
	for popOrphan() != nil {
	}
	require.Nil(t, popOrphan())
}

func TestOrphanMultipleHeapsLIFO(t *testing.T) {
	for popOrphan() != nil {
	}

	idA := nextHeapID.Add(1)
	a := newHeap(idA)
	registerHeap(a)
	idB := nextHeapID.Add(1)
	b := newHeap(idB)
	registerHeap(b)

	pushOrphan(a)
	pushOrphan(b)

	require.Same(t, b, popOrphan())
	require.Same(t, a, popOrphan())
	require.Nil(t, popOrphan())
}
