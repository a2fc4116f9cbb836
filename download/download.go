// Package download defines the transport contract of the cache layer and
// provides an HTTP implementation of it.
//
// The cache core submits fetch jobs and consumes the object's bytes through
// a caller-supplied sink. Retries, decompression, and content verification
// happen inside the transport; the cache layer only observes the final
// error.
package download

import (
	"errors"
	"io"

	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/oid"
)

// Transport errors.
var (
	// ErrNotFound is returned when the object does not exist on the host,
	// including on the alternative path if one was given.
	ErrNotFound = errors.New("download: object not found")

	// ErrHashMismatch is returned when the delivered content does not
	// match the expected digest. A mismatch indicates corruption or cache
	// poisoning upstream.
	ErrHashMismatch = errors.New("download: content hash mismatch")

	// ErrBadData is returned when the payload cannot be decompressed.
	ErrBadData = errors.New("download: corrupted payload")
)

// Sink consumes the bytes of a downloaded object in order. Write must
// account for every delivered byte; Reset reverts the sink so a retried
// download can deliver the object from scratch.
type Sink interface {
	io.Writer
	Reset() error
}

// JobInfo describes a single fetch. The transport streams the decompressed
// object into Sink and verifies it against ExpectedHash when set.
type JobInfo struct {
	// Path is the object location relative to the repository root,
	// usually derived from the content hash.
	Path string

	// AltPath, if non-empty, is tried when Path yields a 404.
	AltPath string

	// Sink receives the uncompressed object bytes.
	Sink Sink

	// Compression is the wire compression to undo.
	Compression cachemgr.CompressionAlg

	// ProbeHosts asks the transport to re-evaluate host health before the
	// fetch. Implementations may ignore it.
	ProbeHosts bool

	// ExpectedHash, when not null, is verified against the uncompressed
	// content.
	ExpectedHash oid.Hash
}

// Manager fetches objects. Implementations must be safe for concurrent use.
type Manager interface {
	// Fetch downloads the job's object. On a nil return the sink has
	// received the complete object exactly once since its last Reset.
	Fetch(job *JobInfo) error
}
