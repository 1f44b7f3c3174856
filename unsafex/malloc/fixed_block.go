package malloc

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/kalloc/unsafex"
)

// blockNode is written into every free block of a size class.
type blockNode struct {
	next uintptr // address of the next free block, 0 at the end of the list
}

// FixedSizeBlockAllocator serves requests up to MaxBlockSize from one free
// list per size class, and everything else from an embedded
// LinkedListAllocator. The fallback also carves new blocks when a class
// list is empty, one block per miss.
//
// The zero value is an empty allocator, call Init before use.
// FixedSizeBlockAllocator is NOT safe for concurrent use, see Locked.
type FixedSizeBlockAllocator struct {
	heads    [NumSizeClasses]uintptr
	fallback LinkedListAllocator
}

// Init hands the arena to the fallback allocator. Class lists start empty.
// See LinkedListAllocator.Init for the requirements on arena.
func (a *FixedSizeBlockAllocator) Init(arena []byte, opts ...InitOption) {
	a.fallback.Init(arena, opts...)
}

// InitAt is like Init for a heap given as a raw address range.
func (a *FixedSizeBlockAllocator) InitAt(heapStart, heapSize uintptr, opts ...InitOption) {
	a.fallback.InitAt(heapStart, heapSize, opts...)
}

// Allocate returns the address of a block of at least size bytes aligned to
// align. It returns ErrOutOfMemory if the fallback allocator is exhausted.
func (a *FixedSizeBlockAllocator) Allocate(size, align uintptr) (uintptr, error) {
	if align != 0 && !unsafex.IsPowerOfTwo(align) {
		return 0, ErrBadAlign
	}
	idx, ok := listIndex(size, align)
	if !ok {
		return a.fallback.Allocate(size, align)
	}
	if head := a.heads[idx]; head != 0 {
		a.heads[idx] = a.block(head).next
		return head, nil
	}
	blockSize := blockSizes[idx]
	return a.fallback.Allocate(blockSize, blockSize)
}

// Deallocate returns the block at addr to the allocator.
// size and align MUST be the ones passed to Allocate for this block.
func (a *FixedSizeBlockAllocator) Deallocate(addr, size, align uintptr) {
	idx, ok := listIndex(size, align)
	if !ok {
		a.fallback.Deallocate(addr, size, align)
		return
	}
	blockSize := blockSizes[idx]
	if unsafe.Sizeof(blockNode{}) > blockSize || unsafe.Alignof(blockNode{}) > blockSize {
		panic(fmt.Sprintf("malloc: block size %d can't hold a block node", blockSize))
	}
	a.fallback.checkRange(addr, blockSize)
	n := a.block(addr)
	n.next = a.heads[idx]
	a.heads[idx] = addr
}

// Bounds returns the heap range given to Init.
func (a *FixedSizeBlockAllocator) Bounds() (start, size uintptr) {
	return a.fallback.Bounds()
}

// FixedSizeBlockStats describes the free lists of a FixedSizeBlockAllocator.
type FixedSizeBlockStats struct {
	// Blocks is the number of free blocks in each size class.
	Blocks [NumSizeClasses]int
	// Fallback describes the free list of the fallback allocator.
	Fallback LinkedListStats
}

// FreeBytes returns the bytes held by class lists and the fallback allocator.
func (s FixedSizeBlockStats) FreeBytes() uintptr {
	n := s.Fallback.FreeBytes
	for i, blocks := range s.Blocks {
		n += uintptr(blocks) * blockSizes[i]
	}
	return n
}

// Stats walks every class list and the fallback free list.
func (a *FixedSizeBlockAllocator) Stats() FixedSizeBlockStats {
	var s FixedSizeBlockStats
	for i, head := range a.heads {
		for addr := head; addr != 0; addr = a.block(addr).next {
			s.Blocks[i]++
		}
	}
	s.Fallback = a.fallback.Stats()
	return s
}

func (a *FixedSizeBlockAllocator) block(addr uintptr) *blockNode {
	return (*blockNode)(unsafe.Add(a.fallback.base, addr-a.fallback.start))
}
