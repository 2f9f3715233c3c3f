// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Deferred-deallocation queue: a per-heap lock-free stack where another
// thread pushes blocks whose owning heap is not the current thread's heap;
// the owning heap drains it at its next allocation (spec.md section 4.6).
//
// Grounded on the teacher's gclink/gclinkptr intrusive-list technique in
// mcache.go (reuse the freed block's own first machine word as the link,
// rather than allocating a list node).
package spanmalloc

import (
	"sync/atomic"
	"unsafe"
)

// deferredQueue is embedded in every heap.
type deferredQueue struct {
	head atomic.Pointer[deferredNode]
}

// deferredNode overlays the first machine word of a freed block. It is
// never allocated by Go; every instance is an unsafe.Pointer cast over a
// block the caller already owns.
type deferredNode struct {
	next *deferredNode
}

// push is called by a foreign thread deallocating a block owned by a
// different heap (spec.md section 4.4 step 3). It never blocks and never
// retries more than contention requires.
func (q *deferredQueue) push(p unsafe.Pointer) {
	node := (*deferredNode)(p)
	for {
		old := q.head.Load()
		node.next = old
		if q.head.CompareAndSwap(old, node) {
			return
		}
	}
}

// drain atomically detaches the entire queue and returns its head,
// leaving the queue empty for subsequent pushers (spec.md section 4.6:
// "the owning heap drains by atomically swapping head to empty").
func (q *deferredQueue) drain() *deferredNode {
	return q.head.Swap(nil)
}
