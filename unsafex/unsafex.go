/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package unsafex contains the address arithmetic shared by the allocators.
package unsafex

import "unsafe"

// IsPowerOfTwo reports whether x is a non-zero power of two.
func IsPowerOfTwo(x uintptr) bool {
	return x != 0 && x&(x-1) == 0
}

// AlignUp returns the smallest multiple of align that is >= addr.
// align MUST be a power of two. The result wraps around on overflow,
// callers compare it against addr if that matters.
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// IsAligned reports whether addr is a multiple of align.
func IsAligned(addr, align uintptr) bool {
	return addr&(align-1) == 0
}

// Addr returns the address of the first byte of b, or 0 if b is nil.
func Addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// BytesAt returns a []byte of n bytes starting at addr.
//
// It's for memory that is not owned by the Go runtime, like a range mapped
// by a boot loader. DO NOT pass an address of a Go object.
func BytesAt(addr uintptr, n int) []byte {
	// reinterpret addr in place, unsafe.Pointer(addr) is flagged by vet
	p := *(*unsafe.Pointer)(unsafe.Pointer(&addr))
	return unsafe.Slice((*byte)(p), n)
}
