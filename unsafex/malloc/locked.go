package malloc

import "github.com/cloudwego/kalloc/concurrency/spinlock"

// Allocator is the surface shared by the allocators of this package.
type Allocator interface {
	// Allocate returns the address of a block of at least size bytes
	// aligned to align, or an error if the request can't be served.
	Allocate(size, align uintptr) (uintptr, error)

	// Deallocate returns a block to the allocator. size and align MUST be
	// the values passed to Allocate for this block.
	Deallocate(addr, size, align uintptr)
}

var (
	_ Allocator = (*LinkedListAllocator)(nil)
	_ Allocator = (*FixedSizeBlockAllocator)(nil)
	_ Allocator = (*Locked)(nil)
)

// Locked serializes every call to the wrapped Allocator with a spinlock,
// making it callable from multiple goroutines.
type Locked struct {
	l *spinlock.Locked[Allocator]
}

// NewLocked wraps a. a MUST NOT be used directly afterwards.
func NewLocked(a Allocator) *Locked {
	return &Locked{l: spinlock.New(a)}
}

// Allocate implements Allocator.
func (l *Locked) Allocate(size, align uintptr) (uintptr, error) {
	g := l.l.Lock()
	defer g.Unlock()
	return (*g.Value()).Allocate(size, align)
}

// Deallocate implements Allocator.
func (l *Locked) Deallocate(addr, size, align uintptr) {
	g := l.l.Lock()
	defer g.Unlock()
	(*g.Value()).Deallocate(addr, size, align)
}

// With runs fn with exclusive access to the wrapped Allocator, so that
// several operations happen under one acquisition.
// fn MUST NOT call methods of l, use a instead.
func (l *Locked) With(fn func(a Allocator)) {
	l.l.Do(func(a *Allocator) { fn(*a) })
}
