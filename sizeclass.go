// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Size-class table.
//
// Grounded on wenfang-golang1.6-src/src/runtime/msize.go's initSizes: the
// simpler, pre-arena generation of the Go allocator's own size-class
// packer (grow the page count for a class until rounding waste drops below
// a threshold, then merge a class into its predecessor if the resulting
// (page_count, block_count) pair didn't change). Adapted to spec.md
// section 4.2's exact formula rather than the teacher's constant, since
// spec.md is authoritative over the historical cutoff.
package spanmalloc

// sizeClass is one row of the immutable, process-wide size-class table
// (spec.md section 3).
type sizeClass struct {
	blockSize  uint32
	pageCount  uint32
	blockCount uint32
}

// sizeClassTable is built once by Initialize and never mutated afterward;
// every read after that point is safe without synchronization because
// Initialize happens-before any call to Allocate (documented precondition,
// spec.md section 6).
var sizeClassTable []sizeClass

// sizeToClass implements the teacher's msize.go lookup trick: every
// request is rounded up to a blockSizeStep multiple and divided down to an
// index into this table, avoiding a linear scan of sizeClassTable on the
// hot path. The merge step in buildSizeClassTable can land class
// boundaries on arbitrary blockSizeStep multiples (not just round medium
// boundaries), so the lookup table is built at blockSizeStep granularity
// across the whole range rather than switching to a coarser divisor partway
// through, trading a larger table (one int32 per 16 bytes up to
// mediumSizeLimit) for a lookup that can never miss a merged boundary.
var sizeToClass []int32

// mediumSizeLimit is the largest request the size-class table can satisfy;
// anything larger takes the oversize path (spec.md section 4.8).
var mediumSizeLimit uint32

func buildSizeClassTable() {
	var classes []sizeClass
	var prevPageCount, prevBlockCount uint32

	for i := 0; ; i++ {
		b := uint32(i+1) * blockSizeStep
		if b > spanGranularity-spanHeaderSize {
			break
		}

		pageCount := uint32(1)
		blockCount := blocksPerSpan(pageCount, b)
		bestPageCount, bestBlockCount := pageCount, blockCount
		bestRatio := overheadRatio(pageCount, blockCount, b)

		for pageCount < maxPagesPerSpan {
			waste := wastedBytes(pageCount, blockCount, b)
			if blockCount > 0 && float64(waste)/float64(blockCount) <= float64(b)/32.0 {
				break
			}
			pageCount++
			blockCount = blocksPerSpan(pageCount, b)
			if blockCount == 0 {
				continue
			}
			ratio := overheadRatio(pageCount, blockCount, b)
			if ratio < bestRatio {
				bestPageCount, bestBlockCount, bestRatio = pageCount, blockCount, ratio
			}
		}

		if bestBlockCount == 0 {
			continue
		}

		if len(classes) > 0 && bestPageCount == prevPageCount && bestBlockCount == prevBlockCount {
			// Same (page_count, block_count) as the previous class:
			// widen it instead of adding a new, wasteful entry
			// (spec.md section 4.2 step 3).
			classes[len(classes)-1].blockSize = b
			prevPageCount, prevBlockCount = bestPageCount, bestBlockCount
			continue
		}

		classes = append(classes, sizeClass{
			blockSize:  b,
			pageCount:  bestPageCount,
			blockCount: bestBlockCount,
		})
		prevPageCount, prevBlockCount = bestPageCount, bestBlockCount
	}

	if len(classes) > maxSizeClasses {
		panic("spanmalloc: size-class table exceeds maxSizeClasses")
	}

	sizeClassTable = classes
	if n := len(classes); n > 0 {
		mediumSizeLimit = classes[n-1].blockSize
	}
	buildSizeLookupTables()
}

func blocksPerSpan(pageCount, blockSize uint32) uint32 {
	payload := pageCount*osPageSize - spanHeaderSize
	return payload / blockSize
}

func wastedBytes(pageCount, blockCount, blockSize uint32) uint32 {
	payload := pageCount*osPageSize - spanHeaderSize
	return payload - blockCount*blockSize
}

// overheadRatio implements spec.md section 3's packing objective:
// (wasted_bytes + header) / (block_count * block_size).
func overheadRatio(pageCount, blockCount, blockSize uint32) float64 {
	if blockCount == 0 {
		return 1e9
	}
	waste := wastedBytes(pageCount, blockCount, blockSize)
	return float64(waste+spanHeaderSize) / float64(blockCount*blockSize)
}

func buildSizeLookupTables() {
	sizeToClass = make([]int32, mediumSizeLimit/blockSizeStep+1)

	nextSize := uint32(0)
	for idx, c := range sizeClassTable {
		for nextSize <= c.blockSize {
			sizeToClass[nextSize/blockSizeStep] = int32(idx)
			nextSize += blockSizeStep
		}
	}
}

// classFor returns the smallest size class whose block size is at least n,
// or ok=false if n exceeds every class in the table (the caller should
// route to the oversize path).
func classFor(n uint32) (class int32, ok bool) {
	if n == 0 {
		n = 1
	}
	if n > mediumSizeLimit {
		return 0, false
	}
	return sizeToClass[(n+blockSizeStep-1)/blockSizeStep], true
}
