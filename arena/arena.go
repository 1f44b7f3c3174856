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

// Package arena provides the address ranges handed to the allocators.
//
// An Arena is either mapped outside of the Go heap (Map), or allocated from
// the Go heap (New, NewPooled) for tests and hosted builds.
package arena

import (
	"fmt"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cloudwego/kalloc/unsafex"
)

// Arena is a contiguous range of writable memory owned by a single allocator.
type Arena struct {
	buf      []byte
	release  func([]byte) error
	released int32
}

// New returns an arena of size bytes from the Go heap.
// The memory is NOT zeroed.
func New(size int) *Arena {
	if size <= 0 {
		panic(fmt.Sprintf("arena: invalid size %d", size))
	}
	return &Arena{buf: dirtmake.Bytes(size, size)}
}

// NewPooled is like New but takes the memory from a pool and gives it back
// on Release. It's for code creating many short-lived heaps, like tests.
func NewPooled(size int) *Arena {
	if size <= 0 {
		panic(fmt.Sprintf("arena: invalid size %d", size))
	}
	return &Arena{
		buf: mcache.Malloc(size),
		release: func(b []byte) error {
			mcache.Free(b)
			return nil
		},
	}
}

// Bytes returns the memory of the arena.
// It MUST NOT be used after Release.
func (a *Arena) Bytes() []byte {
	return a.buf
}

// Start returns the address of the first byte of the arena.
func (a *Arena) Start() uintptr {
	return unsafex.Addr(a.buf)
}

// Size returns the size of the arena in bytes.
func (a *Arena) Size() uintptr {
	return uintptr(len(a.buf))
}

// Contains reports whether addr is inside the arena.
func (a *Arena) Contains(addr uintptr) bool {
	start := a.Start()
	return addr >= start && addr-start < a.Size()
}

// Release gives the memory back. Calling Release more than once has no effect.
func (a *Arena) Release() error {
	if !atomic.CompareAndSwapInt32(&a.released, 0, 1) {
		return nil
	}
	buf := a.buf
	a.buf = nil
	if a.release == nil {
		return nil
	}
	if err := a.release(buf); err != nil {
		return fmt.Errorf("arena: release %d bytes: %w", len(buf), err)
	}
	return nil
}
