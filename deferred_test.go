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

func TestDeferredQueueDrainReturnsAllPushed(t *testing.T) {
	mapper := newFakeMapper()
	base, err := mapper.Map(1)
	require.NoError(t, err)
	s := (*span)(base)
	s.resetFresh(0, 32, 1, 16)

	var q deferredQueue
	var pushed []unsafe.Pointer
	for i := uint32(1); i < 8; i++ {
		p := s.blockAt(i)
		q.push(p)
		pushed = append(pushed, p)
	}

	seen := map[unsafe.Pointer]bool{}
	for node := q.drain(); node != nil; node = node.next {
		seen[unsafe.Pointer(node)] = true
	}
	for _, p := range pushed {
		require.True(t, seen[p], "pushed pointer missing from drain")
	}
	require.Len(t, seen, len(pushed))
}

func TestDeferredQueueDrainEmptiesQueue(t *testing.T) {
	mapper := newFakeMapper()
	base, err := mapper.Map(1)
	require.NoError(t, err)
	s := (*span)(base)
	s.resetFresh(0, 32, 1, 16)

	var q deferredQueue
	q.push(s.blockAt(1))
	require.NotNil(t, q.drain())
	require.Nil(t, q.drain(), "second drain on an empty queue must return nil")
}

func TestDeferredQueueConcurrentPush(t *testing.T) {
	mapper := newFakeMapper()
	base, err := mapper.Map(1)
	require.NoError(t, err)
	s := (*span)(base)
	s.resetFresh(0, 32, 1, 64)

	var q deferredQueue
	var wg sync.WaitGroup
	for i := uint32(1); i < 64; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.push(s.blockAt(i))
		}()
	}
	wg.Wait()

	count := 0
	for node := q.drain(); node != nil; node = node.next {
		count++
	}
	require.Equal(t, 63, count)
}
