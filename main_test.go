// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	buildSizeClassTable()
	os.Exit(m.Run())
}
