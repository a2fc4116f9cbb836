package cachemgr

import "github.com/rillfs/rill/oid"

// SizeUnknown marks a Label whose object size is not known up front.
const SizeUnknown int64 = -1

// CompressionAlg identifies how an object is compressed on the wire.
type CompressionAlg uint8

// Wire compression algorithms. The zero value is zlib, the default for
// repository objects.
const (
	CompressionZlib CompressionAlg = iota
	CompressionNone
	CompressionZstd
)

func (c CompressionAlg) String() string {
	switch c {
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	}
	return "unknown"
}

// ObjectFlags classify an object for cache placement and eviction.
type ObjectFlags uint8

// Object classification flags.
const (
	FlagCatalog ObjectFlags = 1 << iota
	FlagCertificate
	FlagPinned
	FlagExternal
	FlagChunk
	FlagVolatile
)

// Label carries out-of-band per-request metadata for an object. Labels do
// not participate in object identity: two requests for the same hash with
// different labels are the same object for deduplication purposes.
type Label struct {
	// Path is the original repository path, used for logging and as the
	// basis for alternative download locations of external objects.
	Path string

	// Size is the expected uncompressed size, or SizeUnknown.
	Size int64

	// Compression is the wire compression of the object.
	Compression CompressionAlg

	// Flags classifies the object.
	Flags ObjectFlags
}

// DefaultLabel returns a label for a regular data object of unknown size
// with default (zlib) wire compression.
func DefaultLabel() Label {
	return Label{Size: SizeUnknown}
}

// IsCatalog reports whether the label marks a file catalog.
func (l Label) IsCatalog() bool { return l.Flags&FlagCatalog != 0 }

// IsCertificate reports whether the label marks a repository certificate.
func (l Label) IsCertificate() bool { return l.Flags&FlagCertificate != 0 }

// IsPinned reports whether the object must stay resident in the cache.
func (l Label) IsPinned() bool { return l.Flags&FlagPinned != 0 }

// IsExternal reports whether the object is fetched from its original path
// rather than the content-addressed namespace.
func (l Label) IsExternal() bool { return l.Flags&FlagExternal != 0 }

// IsVolatile reports whether the object should be evicted early.
func (l Label) IsVolatile() bool { return l.Flags&FlagVolatile != 0 }

// MustMaterialize reports whether the object class has to exist as a file
// in the backing cache and can never be served by streaming.
func (l Label) MustMaterialize() bool {
	return l.Flags&(FlagCatalog|FlagPinned) != 0
}

// LabeledObject pairs an object identifier with its request label. It is
// owned by the caller for the duration of one request.
type LabeledObject struct {
	ID    oid.Hash
	Label Label
}
