// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Overflow-checked uintptr arithmetic. Adapted from the overflow check in
// go-go1.16.14/src/runtime/internal/math/math.go's MulUintptr, which the
// teacher's own mallocgc uses to reject a byte count that would wrap before
// it ever reaches the page-rounding math; this module needs the same kind
// of guard on the oversize path (spec.md section 4.8), where size comes
// straight from the caller with no size-class table to have already
// bounded it.
package spanmalloc

const maxUintptr = ^uintptr(0)

// addOverflows reports whether a+b would wrap a uintptr.
func addOverflows(a, b uintptr) bool {
	return a > maxUintptr-b
}
