// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSizeClassTableMonotonic(t *testing.T) {
	buildSizeClassTable()
	require.NotEmpty(t, sizeClassTable)

	for i := 1; i < len(sizeClassTable); i++ {
		prev, cur := sizeClassTable[i-1], sizeClassTable[i]
		require.Greater(t, cur.blockSize, prev.blockSize, "class %d block size must grow", i)
	}
}

func TestBuildSizeClassTableOverheadBound(t *testing.T) {
	buildSizeClassTable()
	for i, c := range sizeClassTable {
		waste := wastedBytes(c.pageCount, c.blockCount, c.blockSize)
		require.LessOrEqual(t, float64(waste), float64(c.blockCount)*float64(c.blockSize)/32.0+float64(c.blockSize),
			"class %d waste exceeds the packing bound", i)
	}
}

func TestClassForRoundsUp(t *testing.T) {
	buildSizeClassTable()

	class, ok := classFor(1)
	require.True(t, ok)
	require.GreaterOrEqual(t, sizeClassTable[class].blockSize, uint32(1))

	class, ok = classFor(mediumSizeLimit)
	require.True(t, ok)
	require.Equal(t, mediumSizeLimit, sizeClassTable[class].blockSize)

	_, ok = classFor(mediumSizeLimit + 1)
	require.False(t, ok, "requests above mediumSizeLimit must route to the oversize path")
}

func TestClassForNeverUndersizes(t *testing.T) {
	buildSizeClassTable()
	for n := uint32(1); n <= mediumSizeLimit; n += 7 {
		class, ok := classFor(n)
		require.True(t, ok)
		require.GreaterOrEqualf(t, sizeClassTable[class].blockSize, n, "class for %d undersized", n)
	}
}
