package cachemgr

import "errors"

// Sentinel errors of the cache layer. Implementations return these values
// (possibly wrapped); callers test with errors.Is.
var (
	// ErrNotFound is returned when an object is neither cached nor, where
	// fetching applies, fetchable.
	ErrNotFound = errors.New("object not found in cache")

	// ErrBadFD is returned for unknown or already-closed descriptors.
	ErrBadFD = errors.New("bad file descriptor")

	// ErrIO collapses transport and integrity failures: network errors,
	// digest or size mismatches, and decompression failures.
	ErrIO = errors.New("i/o error")

	// ErrTooManyOpenFiles is returned when a descriptor table is full.
	ErrTooManyOpenFiles = errors.New("too many open files")

	// ErrReadOnly is returned for write operations on a read-only cache.
	ErrReadOnly = errors.New("read-only cache")

	// ErrNoSpace is returned when the cache cannot hold the object.
	ErrNoSpace = errors.New("no space in cache")
)
