package malloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudwego/kalloc/arena"
)

// newTestArena maps a page aligned arena of exactly size bytes.
func newTestArena(t testing.TB, size int) []byte {
	a, err := arena.Map(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Release() })
	return a.Bytes()[:size]
}

func newTestLinkedList(t testing.TB, size int, opts ...InitOption) (*LinkedListAllocator, []byte) {
	buf := newTestArena(t, size)
	a := &LinkedListAllocator{}
	a.Init(buf, opts...)
	return a, buf
}

func newTestFixedSizeBlock(t testing.TB, size int, opts ...InitOption) (*FixedSizeBlockAllocator, []byte) {
	buf := newTestArena(t, size)
	a := &FixedSizeBlockAllocator{}
	a.Init(buf, opts...)
	return a, buf
}

func overlap(a, asize, b, bsize uintptr) bool {
	return a < b+bsize && b < a+asize
}

// block returns the bytes of an allocation.
func block(buf []byte, start, addr, size uintptr) []byte {
	off := addr - start
	return buf[off : off+size : off+size]
}
