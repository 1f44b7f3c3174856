package malloc

import "errors"

var (
	// ErrOutOfMemory indicates that no free region or block is large enough
	// for the request.
	ErrOutOfMemory = errors.New("malloc: out of memory")

	// ErrBadAlign indicates an alignment that is not a power of two.
	ErrBadAlign = errors.New("malloc: alignment must be a power of two")
)
