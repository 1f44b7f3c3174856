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

// Package kheap sets up a heap: it reserves an arena, installs one of the
// allocators of package malloc over it and serializes every call.
package kheap

import (
	"errors"
	"fmt"
	"log"
	"unsafe"

	"github.com/cloudwego/kalloc/arena"
	"github.com/cloudwego/kalloc/unsafex/malloc"
)

// Heap is an initialized allocator over its own arena.
// It's safe for concurrent use.
type Heap struct {
	arena    *arena.Arena
	alloc    *malloc.Locked
	strategy Strategy
	oom      func(size, align uintptr)
}

// New reserves the arena described by o and initializes the allocator.
// o can be nil, DefaultOption is used then.
func New(o *Option) (*Heap, error) {
	if o == nil {
		o = DefaultOption()
	}
	if o.Size < int(malloc.NodeSize) {
		return nil, fmt.Errorf("kheap: heap size must be >= %d, got %d", malloc.NodeSize, o.Size)
	}
	if o.Strategy != StrategyFixedSizeBlock && o.Strategy != StrategyLinkedList {
		return nil, fmt.Errorf("kheap: unknown strategy %d", o.Strategy)
	}
	ar, err := newArena(o.Provider, o.Size)
	if err != nil {
		return nil, err
	}

	var a malloc.Allocator
	switch o.Strategy {
	case StrategyFixedSizeBlock:
		fa := &malloc.FixedSizeBlockAllocator{}
		fa.Init(ar.Bytes(), o.initOptions()...)
		a = fa
	case StrategyLinkedList:
		la := &malloc.LinkedListAllocator{}
		la.Init(ar.Bytes(), o.initOptions()...)
		a = la
	}

	h := &Heap{
		arena:    ar,
		alloc:    malloc.NewLocked(a),
		strategy: o.Strategy,
		oom:      o.OOMHandler,
	}
	if h.oom == nil {
		h.oom = logOOM
	}
	return h, nil
}

func newArena(p Provider, size int) (*arena.Arena, error) {
	switch p {
	case ProviderMmap:
		return arena.Map(size)
	case ProviderGoHeap:
		return arena.New(size), nil
	case ProviderPool:
		return arena.NewPooled(size), nil
	}
	return nil, fmt.Errorf("kheap: unknown provider %d", p)
}

func logOOM(size, align uintptr) {
	log.Printf("KHEAP: memory allocation of %d bytes (align %d) failed", size, align)
}

// Allocate returns the address of a block of at least size bytes aligned
// to align.
func (h *Heap) Allocate(size, align uintptr) (uintptr, error) {
	return h.alloc.Allocate(size, align)
}

// Deallocate returns a block to the heap. size and align MUST be the ones
// passed to Allocate for this block.
func (h *Heap) Deallocate(addr, size, align uintptr) {
	h.alloc.Deallocate(addr, size, align)
}

// MustAllocate is like Allocate but never fails: an exhausted heap calls
// the OOM handler and panics.
func (h *Heap) MustAllocate(size, align uintptr) uintptr {
	p, err := h.Allocate(size, align)
	if err == nil {
		return p
	}
	if errors.Is(err, malloc.ErrOutOfMemory) {
		h.oom(size, align)
	}
	panic(fmt.Errorf("kheap: allocate %d bytes aligned to %d: %w", size, align, err))
}

// Bytes returns the n bytes at addr. It panics if the range is not inside
// the heap.
func (h *Heap) Bytes(addr uintptr, n int) []byte {
	if !h.contains(addr, uintptr(n)) {
		panic(fmt.Sprintf("kheap: range %#x+%d not in heap", addr, n))
	}
	off := addr - h.arena.Start()
	return h.arena.Bytes()[off : off+uintptr(n) : off+uintptr(n)]
}

// pointer derives a pointer to addr from the arena base, addr MUST be inside the heap.
func (h *Heap) pointer(addr uintptr) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(unsafe.SliceData(h.arena.Bytes())), addr-h.arena.Start())
}

// Contains reports whether addr is inside the heap.
func (h *Heap) Contains(addr uintptr) bool {
	return h.arena.Contains(addr)
}

func (h *Heap) contains(addr, n uintptr) bool {
	start, size := h.arena.Start(), h.arena.Size()
	return addr >= start && addr-start <= size && n <= size-(addr-start)
}

// Start returns the address of the first byte of the heap.
func (h *Heap) Start() uintptr {
	return h.arena.Start()
}

// Size returns the heap size in bytes.
func (h *Heap) Size() uintptr {
	return h.arena.Size()
}

// Strategy returns the allocator serving the heap.
func (h *Heap) Strategy() Strategy {
	return h.strategy
}

// Stats describes the free memory of a heap.
type Stats struct {
	// FreeRegions is the number of regions in the linked list.
	FreeRegions int
	// FreeBytes counts the free regions and the free blocks of all classes.
	FreeBytes uintptr
	// ClassBlocks is the number of free blocks per size class,
	// always zero with StrategyLinkedList.
	ClassBlocks [malloc.NumSizeClasses]int
}

// Stats walks the free lists of the heap.
func (h *Heap) Stats() Stats {
	var s Stats
	h.alloc.With(func(a malloc.Allocator) {
		switch a := a.(type) {
		case *malloc.LinkedListAllocator:
			ls := a.Stats()
			s.FreeRegions, s.FreeBytes = ls.Regions, ls.FreeBytes
		case *malloc.FixedSizeBlockAllocator:
			fs := a.Stats()
			s.FreeRegions, s.FreeBytes = fs.Fallback.Regions, fs.FreeBytes()
			s.ClassBlocks = fs.Blocks
		}
	})
	return s
}

// Close releases the arena. The heap and every block allocated from it
// MUST NOT be used afterwards.
func (h *Heap) Close() error {
	return h.arena.Release()
}

// Alloc allocates a zeroed T from h.
// T MUST NOT contain pointers, the GC doesn't see the heap.
func Alloc[T any](h *Heap) (*T, error) {
	var zero T
	size, align := unsafe.Sizeof(zero), unsafe.Alignof(zero)
	p, err := h.Allocate(size, align)
	if err != nil {
		return nil, err
	}
	t := (*T)(h.pointer(p))
	*t = zero
	return t, nil
}

// Free returns a T allocated by Alloc to h.
func Free[T any](h *Heap, t *T) {
	h.Deallocate(uintptr(unsafe.Pointer(t)), unsafe.Sizeof(*t), unsafe.Alignof(*t))
}
