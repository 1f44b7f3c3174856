package malloc

import "math/bits"

const (
	minBlockShift = 3

	// NumSizeClasses is the number of block sizes of FixedSizeBlockAllocator.
	NumSizeClasses = 9

	// MinBlockSize is the smallest block size, 8 bytes.
	MinBlockSize uintptr = 1 << minBlockShift

	// MaxBlockSize is the largest block size, 2048 bytes.
	// Larger requests go to the fallback allocator.
	MaxBlockSize = MinBlockSize << (NumSizeClasses - 1)
)

// blockSizes are the power of two block sizes from MinBlockSize to MaxBlockSize.
// Blocks are aligned to their size, which only works for powers of two.
var blockSizes [NumSizeClasses]uintptr

func init() {
	for i := range blockSizes {
		blockSizes[i] = MinBlockSize << i
	}
}

// BlockSize returns the block size of size class i.
func BlockSize(i int) uintptr {
	return blockSizes[i]
}

// listIndex returns the smallest size class whose blocks can hold size bytes
// aligned to align, or false if the request is larger than MaxBlockSize.
func listIndex(size, align uintptr) (int, bool) {
	required := max(size, align)
	if required > MaxBlockSize {
		return 0, false
	}
	if required <= MinBlockSize {
		return 0, true
	}
	// like `16` should be in class 1, but `17` in class 2
	return bits.Len(uint(required-1)) - minBlockShift, true
}
