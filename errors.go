package rill

import (
	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/download"
)

// Errors re-exported from cachemgr.
var (
	// ErrNotFound is returned when an object is neither cached nor fetchable.
	ErrNotFound = cachemgr.ErrNotFound

	// ErrBadFD is returned for unknown or already-closed descriptors.
	ErrBadFD = cachemgr.ErrBadFD

	// ErrIO collapses transport and integrity failures.
	ErrIO = cachemgr.ErrIO

	// ErrTooManyOpenFiles is returned when a descriptor table is full.
	ErrTooManyOpenFiles = cachemgr.ErrTooManyOpenFiles

	// ErrReadOnly is returned for write operations on a read-only cache.
	ErrReadOnly = cachemgr.ErrReadOnly

	// ErrNoSpace is returned when the cache cannot hold the object.
	ErrNoSpace = cachemgr.ErrNoSpace
)

// Errors re-exported from download.
var (
	// ErrDownloadNotFound is returned when an object does not exist on the host.
	ErrDownloadNotFound = download.ErrNotFound

	// ErrHashMismatch is returned when delivered content fails digest verification.
	ErrHashMismatch = download.ErrHashMismatch

	// ErrBadData is returned when a payload cannot be decompressed.
	ErrBadData = download.ErrBadData
)
