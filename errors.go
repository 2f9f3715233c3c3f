// Copyright 2024 Mattias Jansson. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package spanmalloc

import "github.com/pkg/errors"

// Sentinel errors, declared with github.com/pkg/errors and returned as-is,
// so callers can compare them with errors.Is.
var (
	// ErrAlreadyInitialized is returned by Initialize when called a second
	// time without an intervening Finalize.
	ErrAlreadyInitialized = errors.New("spanmalloc: already initialized")

	// ErrNotInitialized is logged (not returned) when Allocate or
	// Deallocate is called before Initialize or after Finalize; Allocate
	// then returns nil and Deallocate does nothing.
	ErrNotInitialized = errors.New("spanmalloc: not initialized")

	// ErrInvalidPointer is the panic value of the local free path when
	// Config.Debug is set and the pointer's span already has every block
	// free (a double free or a pointer this allocator did not produce).
	ErrInvalidPointer = errors.New("spanmalloc: invalid pointer")

	// ErrAddressRangeTooLarge is returned by Initialize when
	// Config.UseFullAddressRange is false on a platform whose address
	// space cannot be assumed to fit the 32-bit span-offset displacement
	// that mode relies on (spec.md section 9's open question).
	ErrAddressRangeTooLarge = errors.New("spanmalloc: UseFullAddressRange=false is not valid on a 64-bit address space")
)
