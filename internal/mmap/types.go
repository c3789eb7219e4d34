package mmap

import "errors"

// AccessPattern is a hint about how mapped memory will be accessed.
type AccessPattern int

const (
	// AccessDefault gives no specific advice.
	AccessDefault AccessPattern = iota
	// AccessSequential expects sequential access.
	AccessSequential
	// AccessRandom expects random access, typical for node lookups.
	AccessRandom
	// AccessWillNeed expects access in the near future.
	AccessWillNeed
	// AccessDontNeed expects no access in the near future.
	AccessDontNeed
)

var (
	// ErrClosed is returned when accessing a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for negative or zero sizes where a size is required.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrOutOfBounds is returned for views outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
	// ErrReadOnly is returned when syncing a read-only mapping.
	ErrReadOnly = errors.New("mmap: mapping is read-only")
)
