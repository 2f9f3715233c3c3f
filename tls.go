// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Thread affinity. Go has no true thread-local storage without cgo, so
// "thread" here means the calling goroutine for as long as it holds a heap
// (spec.md section 4.3's "current thread's heap"), the same substitution
// other_examples/45d365e7_google-page-alloc-bench__userspace-workload-kallocfree-kallocfree.go.go
// makes with its comment that runtime.LockOSThread() makes "the goroutine
// 'is a thread'". Heap lookup keys off a parsed goroutine id, the same
// technique
// other_examples/86b49eee_fenilsonani-vcs__internal-hyperdrive-memory_allocator.go.go
// uses for its getThreadPool/getGoroutineID pair, except the id is parsed
// correctly here: that file's getGoroutineID sums the raw bytes of the
// stack trace header instead of parsing the decimal id out of it, which
// collides far too often to key a heap table on.
package spanmalloc

import (
	"runtime"
	"sync"
)

var (
	heapsByGoroutineMu sync.RWMutex
	heapsByGoroutine   = make(map[uint64]*heap)
)

// goroutineID parses the decimal id out of "goroutine N [running]:", the
// first line runtime.Stack always produces for the calling goroutine.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	const prefix = "goroutine "
	if len(b) <= len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	b = b[len(prefix):]

	var id uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// ThreadInitialize binds the calling goroutine to a heap, acquiring an
// orphaned one if available or creating a fresh one, and pins the
// goroutine to its OS thread so the binding cannot migrate mid-lifetime
// (spec.md section 4.3's thread-heap affinity precondition).
func ThreadInitialize() {
	gid := goroutineID()

	heapsByGoroutineMu.RLock()
	_, exists := heapsByGoroutine[gid]
	heapsByGoroutineMu.RUnlock()
	if exists {
		return
	}

	runtime.LockOSThread()
	h := acquireHeap()
	h.lockedOSThread = true

	heapsByGoroutineMu.Lock()
	heapsByGoroutine[gid] = h
	heapsByGoroutineMu.Unlock()
}

// ThreadFinalize drains the calling goroutine's heap, orphans it for reuse
// by the next thread that calls ThreadInitialize, and releases the OS
// thread lock (spec.md section 4.7).
func ThreadFinalize() {
	gid := goroutineID()

	heapsByGoroutineMu.Lock()
	h, exists := heapsByGoroutine[gid]
	if exists {
		delete(heapsByGoroutine, gid)
	}
	heapsByGoroutineMu.Unlock()
	if !exists {
		return
	}

	h.drain()
	pushOrphan(h)
	if h.lockedOSThread {
		h.lockedOSThread = false
		runtime.UnlockOSThread()
	}
}

// currentHeap returns the calling goroutine's bound heap, acquiring one via
// ThreadInitialize if this is the first call on this goroutine (spec.md
// section 6: "Allocate/Deallocate implicitly initialize the calling
// thread").
func currentHeap() *heap {
	gid := goroutineID()

	heapsByGoroutineMu.RLock()
	h, exists := heapsByGoroutine[gid]
	heapsByGoroutineMu.RUnlock()
	if exists {
		return h
	}

	ThreadInitialize()

	heapsByGoroutineMu.RLock()
	h = heapsByGoroutine[gid]
	heapsByGoroutineMu.RUnlock()
	return h
}
