// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build !unix

package spanmalloc

import (
	"unsafe"

	"github.com/pkg/errors"
)

// ErrUnsupportedPlatform is returned by the default mapper's Map on
// platforms without a vmMapper implementation; Initialize still succeeds,
// and any allocation that needs fresh pages returns nil. The span-cache
// design (spec.md section 9) is
// portable; only the OS mapping primitive is platform-specific, and this
// module currently grounds that primitive on golang.org/x/sys/unix, which
// covers Linux, Darwin, and the BSDs.
var ErrUnsupportedPlatform = errors.New("spanmalloc: no VMM implementation for this platform")

type unsupportedMapper struct{}

func newDefaultMapper() vmMapper { return unsupportedMapper{} }

func (unsupportedMapper) Map(pageCount uint32) (unsafe.Pointer, error) {
	return nil, ErrUnsupportedPlatform
}

func (unsupportedMapper) Unmap(base unsafe.Pointer, pageCount uint32) {}
