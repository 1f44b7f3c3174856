package malloc

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/kalloc/unsafex"
)

// region is the bookkeeping of a free region.
// It's stored in the first bytes of the free memory it describes.
type region struct {
	size uintptr
	next uintptr // address of the next free region, 0 at the end of the list
}

const (
	// NodeSize is the smallest region LinkedListAllocator can keep track of.
	// Every allocation is at least NodeSize bytes.
	NodeSize = unsafe.Sizeof(region{})

	// NodeAlign is the minimal alignment of every region and allocation.
	NodeAlign = unsafe.Alignof(region{})
)

// InitOption configures a LinkedListAllocator at Init.
type InitOption func(a *LinkedListAllocator)

// WithCoalescing keeps free regions sorted by address and merges a region
// with its neighbours when it's freed.
// Allocation stays first-fit, but in address order instead of the default
// most-recently-freed-first order.
func WithCoalescing() InitOption {
	return func(a *LinkedListAllocator) {
		a.coalesce = true
	}
}

// LinkedListAllocator is a first-fit allocator over a singly linked list of
// free regions. The list nodes live inside the free memory they describe.
//
// The zero value is an empty allocator, call Init before use.
// LinkedListAllocator is NOT safe for concurrent use, see Locked.
type LinkedListAllocator struct {
	// head is the sentinel of the free list, its size is always 0.
	head region

	// arena keeps a Go-allocated heap alive.
	arena []byte

	// base is the heap start as a pointer, node addresses are derived from it.
	base  unsafe.Pointer
	start uintptr
	end   uintptr

	coalesce bool
}

// Init makes the whole arena one free region.
//
// The arena must be aligned to NodeAlign and hold at least NodeSize bytes.
// It MUST NOT be used by anything else until the allocator is dropped.
// Init panics if called twice.
func (a *LinkedListAllocator) Init(arena []byte, opts ...InitOption) {
	if a.base != nil {
		panic("malloc: allocator already initialized")
	}
	size := uintptr(len(arena))
	if size < NodeSize {
		panic(fmt.Sprintf("malloc: heap size %d < node size %d", size, NodeSize))
	}
	start := unsafex.Addr(arena)
	if !unsafex.IsAligned(start, NodeAlign) {
		panic(fmt.Sprintf("malloc: heap start %#x not aligned to %d", start, NodeAlign))
	}
	for _, opt := range opts {
		opt(a)
	}
	a.arena = arena
	a.base = unsafe.Pointer(unsafe.SliceData(arena))
	a.start = start
	a.end = start + size
	a.addFreeRegion(start, size)
}

// InitAt is like Init for a heap given as a raw address range, typically one
// mapped by boot code. The range MUST NOT belong to the Go runtime.
func (a *LinkedListAllocator) InitAt(heapStart, heapSize uintptr, opts ...InitOption) {
	a.Init(unsafex.BytesAt(heapStart, int(heapSize)), opts...)
}

// Allocate returns the address of a block of at least size bytes aligned to
// align. It returns ErrOutOfMemory if no free region fits.
func (a *LinkedListAllocator) Allocate(size, align uintptr) (uintptr, error) {
	size, align, err := sizeAlign(size, align)
	if err != nil {
		return 0, err
	}
	start, regionSize, allocStart, ok := a.findRegion(size, align)
	if !ok {
		return 0, ErrOutOfMemory
	}
	allocEnd := allocStart + size
	if excess := start + regionSize - allocEnd; excess > 0 {
		a.addFreeRegion(allocEnd, excess)
	}
	// gaps smaller than a node are lost until the heap is dropped
	if gap := allocStart - start; gap >= NodeSize {
		a.addFreeRegion(start, gap)
	}
	return allocStart, nil
}

// Deallocate returns the block at addr to the allocator.
// size and align MUST be the ones passed to Allocate for this block.
//
// Unless WithCoalescing is set, the block becomes a new free region even if
// it's next to another free region.
func (a *LinkedListAllocator) Deallocate(addr, size, align uintptr) {
	size, _, err := sizeAlign(size, align)
	if err != nil {
		panic(err)
	}
	a.checkRange(addr, size)
	a.addFreeRegion(addr, size)
}

// Bounds returns the heap range given to Init.
func (a *LinkedListAllocator) Bounds() (start, size uintptr) {
	return a.start, a.end - a.start
}

// LinkedListStats describes the free list of a LinkedListAllocator.
type LinkedListStats struct {
	// Regions is the number of free regions in the list.
	Regions int
	// FreeBytes is the total size of the free regions.
	FreeBytes uintptr
	// Largest is the size of the largest free region.
	Largest uintptr
}

// Stats walks the free list.
func (a *LinkedListAllocator) Stats() LinkedListStats {
	var s LinkedListStats
	a.Walk(func(_, size uintptr) bool {
		s.Regions++
		s.FreeBytes += size
		if size > s.Largest {
			s.Largest = size
		}
		return true
	})
	return s
}

// Walk calls fn for every free region in list order until fn returns false.
func (a *LinkedListAllocator) Walk(fn func(start, size uintptr) bool) {
	for addr := a.head.next; addr != 0; {
		r := a.node(addr)
		next := r.next
		if !fn(addr, r.size) {
			return
		}
		addr = next
	}
}

func (a *LinkedListAllocator) node(addr uintptr) *region {
	return (*region)(unsafe.Add(a.base, addr-a.start))
}

func (a *LinkedListAllocator) checkRange(addr, size uintptr) {
	if addr < a.start || addr+size < addr || addr+size > a.end {
		panic(fmt.Sprintf("malloc: block %#x+%d not in heap [%#x, %#x)", addr, size, a.start, a.end))
	}
}

// addFreeRegion writes a node at addr and links it into the free list.
func (a *LinkedListAllocator) addFreeRegion(addr, size uintptr) {
	if !unsafex.IsAligned(addr, NodeAlign) {
		panic(fmt.Sprintf("malloc: free region %#x not aligned to %d", addr, NodeAlign))
	}
	if size < NodeSize {
		panic(fmt.Sprintf("malloc: free region size %d < node size %d", size, NodeSize))
	}
	if a.coalesce {
		a.insertSorted(addr, size)
		return
	}
	r := a.node(addr)
	r.size = size
	r.next = a.head.next
	a.head.next = addr
}

// insertSorted links [addr, addr+size) into an address ordered list and
// merges it with the regions right before and after it.
func (a *LinkedListAllocator) insertSorted(addr, size uintptr) {
	prev, prevAddr := &a.head, uintptr(0)
	for prev.next != 0 && prev.next < addr {
		prevAddr = prev.next
		prev = a.node(prevAddr)
	}
	next := prev.next
	if next != 0 && addr+size > next {
		panic(fmt.Sprintf("malloc: block %#x+%d overlaps free region %#x", addr, size, next))
	}
	if prevAddr != 0 && prevAddr+prev.size > addr {
		panic(fmt.Sprintf("malloc: block %#x overlaps free region %#x+%d", addr, prevAddr, prev.size))
	}

	if next != 0 && addr+size == next {
		n := a.node(next)
		size += n.size
		next = n.next
	}
	if prevAddr != 0 && prevAddr+prev.size == addr {
		prev.size += size
		prev.next = next
		return
	}
	r := a.node(addr)
	r.size = size
	r.next = next
	prev.next = addr
}

// findRegion unlinks the first region that can hold an allocation of size
// bytes aligned to align. It returns the region and the allocation start.
func (a *LinkedListAllocator) findRegion(size, align uintptr) (start, regionSize, allocStart uintptr, ok bool) {
	prev := &a.head
	for addr := prev.next; addr != 0; addr = prev.next {
		r := a.node(addr)
		if at, fits := allocFromRegion(addr, r.size, size, align); fits {
			prev.next = r.next
			return addr, r.size, at, true
		}
		prev = r
	}
	return 0, 0, 0, false
}

// allocFromRegion checks whether an allocation fits in the region.
// A region is rejected if the tail it leaves is too small to be tracked.
func allocFromRegion(start, regionSize, size, align uintptr) (uintptr, bool) {
	allocStart := unsafex.AlignUp(start, align)
	if allocStart < start {
		return 0, false
	}
	allocEnd := allocStart + size
	if allocEnd < allocStart {
		return 0, false
	}
	end := start + regionSize
	if allocEnd > end {
		return 0, false
	}
	if excess := end - allocEnd; excess > 0 && excess < NodeSize {
		return 0, false
	}
	return allocStart, true
}

// sizeAlign adjusts a request so that the block can hold a region node
// once it's freed.
func sizeAlign(size, align uintptr) (uintptr, uintptr, error) {
	if align == 0 {
		align = 1
	}
	if !unsafex.IsPowerOfTwo(align) {
		return 0, 0, ErrBadAlign
	}
	if align < NodeAlign {
		align = NodeAlign
	}
	padded := unsafex.AlignUp(size, align)
	if padded < size {
		return 0, 0, ErrOutOfMemory
	}
	if padded < NodeSize {
		padded = NodeSize
	}
	return padded, align, nil
}
