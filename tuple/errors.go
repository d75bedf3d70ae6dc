package tuple

import "errors"

var (
	// ErrOutOfMemory is returned when the allocator cannot satisfy a
	// request even after giving the garbage collector a chance to run.
	ErrOutOfMemory = errors.New("tuple: out of memory")

	// ErrTupleTooLarge is returned when a tuple's total encoded size
	// (header + field map + payload) exceeds the configured maximum.
	ErrTupleTooLarge = errors.New("tuple: too large")

	// ErrFormatError is returned when the raw body cannot be decoded
	// against the requested format.
	ErrFormatError = errors.New("tuple: format error")
)
