// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func freshTestSpan(t *testing.T, mapper *fakeMapper, pageCount uint32) *span {
	t.Helper()
	base, err := mapper.Map(pageCount)
	require.NoError(t, err)
	s := (*span)(base)
	s.resetFresh(0, 32, pageCount, 16)
	return s
}

func TestGlobalSpanCachePushPopRoundTrip(t *testing.T) {
	var g globalSpanCache
	mapper := newFakeMapper()
	s := freshTestSpan(t, mapper, 1)

	g.push(s, 1)
	got, n := g.pop(1, 1)
	require.Equal(t, uint32(1), n)
	require.Same(t, s, got)

	_, n = g.pop(1, 1)
	require.Equal(t, uint32(0), n, "cache should be empty after the single span was popped")
}

func TestGlobalSpanCachePushListAndPartialPop(t *testing.T) {
	var g globalSpanCache
	mapper := newFakeMapper()

	a := freshTestSpan(t, mapper, 2)
	b := freshTestSpan(t, mapper, 2)
	a.setNext(b)
	b.setPrev(a)

	g.pushList(a, b, 2, 2)

	head, n := g.pop(2, 1)
	require.Equal(t, uint32(1), n)
	require.Same(t, head, a, "pop starts at the chain's declared head")

	head, n = g.pop(2, 1)
	require.Equal(t, uint32(1), n)
	require.Same(t, head, b)

	_, n = g.pop(2, 1)
	require.Equal(t, uint32(0), n)
}

func TestGlobalSpanCacheOverflowReleases(t *testing.T) {
	var g globalSpanCache
	mapper := newFakeMapper()

	// releaseOverflow unmaps through the process-wide defaultMapper; point
	// it at the fake for the duration of this test rather than leaving it
	// nil.
	saved := defaultMapper
	defaultMapper = mapper
	defer func() { defaultMapper = saved }()

	spans := make([]*span, globalCacheHighWater+5)
	for i := range spans {
		spans[i] = freshTestSpan(t, mapper, 3)
	}

	for i := 0; i < len(spans); i++ {
		g.push(spans[i], 3)
	}

	require.LessOrEqual(t, unpackGSCCount(g.classes[3].Load()), uint32(globalCacheHighWater))
}

func TestGlobalSpanCachePushListOverflowPreservesListIntegrity(t *testing.T) {
	var g globalSpanCache
	mapper := newFakeMapper()

	// releaseOverflow unmaps through the process-wide defaultMapper; point
	// it at the fake for the duration of this test rather than leaving it
	// nil.
	saved := defaultMapper
	defaultMapper = mapper
	defer func() { defaultMapper = saved }()

	// Fill to just under the high-water mark one span at a time, then push
	// a multi-span linked batch that overflows it in a single pushList
	// call, the way flushHalfToGlobal (heap.go) actually releases spans.
	// Single-span pushes can never exercise releaseOverflow walking past
	// more than one node, which is exactly where the traversal direction
	// matters.
	const prefill = globalCacheHighWater - 2
	for i := 0; i < prefill; i++ {
		g.push(freshTestSpan(t, mapper, 4), 4)
	}

	const batchSize = 10
	batch := make([]*span, batchSize)
	for i := range batch {
		batch[i] = freshTestSpan(t, mapper, 4)
	}
	for i := 0; i < batchSize-1; i++ {
		batch[i].setNext(batch[i+1])
		batch[i+1].setPrev(batch[i])
	}
	g.pushList(batch[0], batch[batchSize-1], batchSize, 4)

	count := unpackGSCCount(g.classes[4].Load())
	require.Equal(t, uint32(globalCacheHighWater), count)

	// Pop every surviving span back out one at a time; if releaseOverflow
	// corrupted a neighbour's link fields instead of cleanly severing the
	// true tail, this walk dereferences unmapped memory or surfaces fewer
	// survivors than the cache claims to hold.
	seen := make(map[*span]struct{})
	for i := uint32(0); i < count; i++ {
		s, n := g.pop(4, 1)
		require.Equal(t, uint32(1), n, "expected a survivor at position %d", i)
		_, dup := seen[s]
		require.False(t, dup, "popped the same span twice")
		seen[s] = struct{}{}
	}
	_, n := g.pop(4, 1)
	require.Equal(t, uint32(0), n, "cache should be empty after draining all survivors")
}
