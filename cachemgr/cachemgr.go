// Package cachemgr defines the cache-manager contract of the client cache
// layer: descriptor-based read access to content-addressed objects plus a
// transactional write path.
//
// Descriptors returned by implementations are small library-level integers
// scoped to one Manager instance. They are not OS file descriptors and must
// not be used with system calls.
package cachemgr

import (
	"io"

	"github.com/rillfs/rill/oid"
)

// ManagerID tags the known Manager implementations.
type ManagerID int

// Known cache manager kinds.
const (
	UnknownCacheManager ManagerID = iota
	PosixCacheManager
	StreamingCacheManager
	MemoryCacheManager
	ExternalCacheManager
)

// Manager is the cache-manager contract consumed by higher layers.
//
// Read operations address objects through descriptors handed out by Open,
// OpenFromTxn, and Dup. Every descriptor is independently owned: closing
// one never invalidates another, even when both refer to the same object.
//
// Implementations must be safe for concurrent use. A transaction, however,
// is owned by one goroutine at a time.
type Manager interface {
	// ID reports which implementation this is.
	ID() ManagerID

	// Describe returns a human-readable description for logging.
	Describe() string

	// AcquireQuotaManager attaches a quota manager that is informed about
	// committed and pinned objects. It reports whether the implementation
	// supports the given quota manager.
	AcquireQuotaManager(q QuotaManager) bool

	// QuotaManager returns the currently attached quota manager.
	QuotaManager() QuotaManager

	// Open returns a descriptor for the object, or ErrNotFound if the
	// object is not available.
	Open(object LabeledObject) (int, error)

	// GetSize returns the object size behind fd.
	GetSize(fd int) (int64, error)

	// Close releases fd. Closing an unknown or already-closed descriptor
	// returns ErrBadFD.
	Close(fd int) error

	// Pread reads len(buf) bytes starting at offset. It returns the number
	// of bytes read, which is short only at end of object.
	Pread(fd int, buf []byte, offset int64) (int, error)

	// Dup returns a new, independently owned descriptor for the object
	// behind fd.
	Dup(fd int) (int, error)

	// Readahead hints that the object behind fd will be read sequentially.
	Readahead(fd int) error

	// StartTxn begins a transaction that will commit an object under id.
	// size is the expected object size or SizeUnknown.
	StartTxn(id oid.Hash, size int64) (Txn, error)

	// OpenFromTxn opens a descriptor on the transaction's partial object
	// before the transaction commits. The descriptor stays valid after
	// commit or abort.
	OpenFromTxn(txn Txn) (int, error)

	// Spawn starts any background threads of the implementation.
	Spawn()

	// LoadBreadcrumb retrieves the stored root-catalog breadcrumb for the
	// given repository name.
	LoadBreadcrumb(fqrn string) (Breadcrumb, bool)

	// StoreBreadcrumb persists the root-catalog breadcrumb for the
	// repository named in it.
	StoreBreadcrumb(fqrn string, breadcrumb Breadcrumb) error
}

// Txn is a three-phase write into the cache: bytes are streamed through
// Write, then the object either becomes visible atomically via Commit or
// disappears via Abort. Ctrl supplies the object classification the cache
// needs before or during the download.
type Txn interface {
	io.Writer

	// Ctrl attaches the object label (class flags, original path,
	// compression) to the transaction.
	Ctrl(label Label)

	// Reset reverts the transaction to its initial state so a retried
	// download can deliver the object from scratch.
	Reset() error

	// Abort discards the transaction and its partial data.
	Abort() error

	// Commit atomically publishes the object. Integrity failures
	// (size or content digest mismatch) surface as ErrIO and quarantine
	// the data where the implementation supports it.
	Commit() error
}
