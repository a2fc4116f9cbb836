package posix

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/oid"
)

var errTxnFinished = errors.New("transaction already finished")

// txn stages an object as a temporary file in the txn directory. Commit
// verifies size and content digest, then renames the file into the
// content-addressed namespace.
type txn struct {
	mgr          *Manager
	id           oid.Hash
	expectedSize int64
	label        cachemgr.Label

	file     *os.File
	tmpPath  string
	written  int64
	digester digest.Digester
	done     bool
}

var _ cachemgr.Txn = (*txn)(nil)

// StartTxn implements cachemgr.Manager.
func (m *Manager) StartTxn(id oid.Hash, size int64) (cachemgr.Txn, error) {
	if id.IsNull() {
		return nil, errors.New("start txn: null object id")
	}
	file, err := os.CreateTemp(filepath.Join(m.root, txnDirName), "txn-*")
	if err != nil {
		return nil, fmt.Errorf("%w: start txn: %v", cachemgr.ErrIO, err)
	}
	return &txn{
		mgr:          m,
		id:           id,
		expectedSize: size,
		label:        cachemgr.DefaultLabel(),
		file:         file,
		tmpPath:      file.Name(),
		digester:     id.Algorithm().Digester(),
	}, nil
}

// OpenFromTxn implements cachemgr.Manager. The returned descriptor reads
// the transaction's partial object and remains usable after the
// transaction commits or aborts.
func (m *Manager) OpenFromTxn(t cachemgr.Txn) (int, error) {
	pt, ok := t.(*txn)
	if !ok {
		return -1, fmt.Errorf("open from txn: foreign transaction %T", t)
	}
	if pt.done {
		return -1, errTxnFinished
	}
	file, err := os.Open(pt.tmpPath)
	if err != nil {
		return -1, fmt.Errorf("%w: open from txn: %v", cachemgr.ErrIO, err)
	}
	return m.wrapFile(file)
}

// Write implements cachemgr.Txn.
func (t *txn) Write(p []byte) (int, error) {
	if t.done {
		return 0, errTxnFinished
	}
	n, err := t.file.Write(p)
	if n > 0 {
		t.written += int64(n)
		_, _ = t.digester.Hash().Write(p[:n])
	}
	if err != nil {
		return n, fmt.Errorf("%w: txn write: %v", cachemgr.ErrIO, err)
	}
	return n, nil
}

// Ctrl implements cachemgr.Txn.
func (t *txn) Ctrl(label cachemgr.Label) {
	t.label = label
}

// Reset implements cachemgr.Txn.
func (t *txn) Reset() error {
	if t.done {
		return errTxnFinished
	}
	if err := t.file.Truncate(0); err != nil {
		return fmt.Errorf("%w: txn reset: %v", cachemgr.ErrIO, err)
	}
	if _, err := t.file.Seek(0, 0); err != nil {
		return fmt.Errorf("%w: txn reset: %v", cachemgr.ErrIO, err)
	}
	t.written = 0
	t.digester = t.id.Algorithm().Digester()
	return nil
}

// Abort implements cachemgr.Txn.
func (t *txn) Abort() error {
	if t.done {
		return errTxnFinished
	}
	t.done = true
	_ = t.file.Close()
	if err := os.Remove(t.tmpPath); err != nil {
		return fmt.Errorf("%w: txn abort: %v", cachemgr.ErrIO, err)
	}
	return nil
}

// Commit implements cachemgr.Txn.
func (t *txn) Commit() error {
	if t.done {
		return errTxnFinished
	}
	t.done = true
	if err := t.file.Close(); err != nil {
		_ = os.Remove(t.tmpPath)
		return fmt.Errorf("%w: txn commit: %v", cachemgr.ErrIO, err)
	}

	if t.expectedSize != cachemgr.SizeUnknown && t.written != t.expectedSize {
		t.quarantine()
		return fmt.Errorf("%w: commit %s: size mismatch: got %d, expected %d",
			cachemgr.ErrIO, t.id, t.written, t.expectedSize)
	}
	if t.digester.Digest() != t.id.Digest {
		t.quarantine()
		return fmt.Errorf("%w: commit %s: content hash mismatch", cachemgr.ErrIO, t.id)
	}

	finalPath := t.mgr.objectPath(t.id)
	if err := os.MkdirAll(filepath.Dir(finalPath), defaultDirPerm); err != nil {
		_ = os.Remove(t.tmpPath)
		return fmt.Errorf("%w: txn commit: %v", cachemgr.ErrIO, err)
	}
	if err := os.Rename(t.tmpPath, finalPath); err != nil {
		_ = os.Remove(t.tmpPath)
		return fmt.Errorf("%w: txn commit: %v", cachemgr.ErrIO, err)
	}

	quota := t.mgr.QuotaManager()
	size := uint64(t.written)
	switch {
	case t.label.IsPinned():
		if !quota.Pin(t.id, size, t.label.Path, t.label.IsCatalog()) {
			_ = os.Remove(finalPath)
			return fmt.Errorf("%w: commit %s: pinned space exhausted", cachemgr.ErrNoSpace, t.id)
		}
	case t.label.IsVolatile():
		quota.InsertVolatile(t.id, size, t.label.Path)
	default:
		quota.Insert(t.id, size, t.label.Path)
	}
	return nil
}

// quarantine preserves the staged data of a failed commit for inspection.
func (t *txn) quarantine() {
	dest := filepath.Join(t.mgr.root, quarantineDirName, t.id.Hex())
	if err := os.Rename(t.tmpPath, dest); err != nil {
		t.mgr.log().Warn("quarantine failed", "object", t.id.String(), "error", err)
		_ = os.Remove(t.tmpPath)
		return
	}
	t.mgr.log().Warn("object quarantined", "object", t.id.String(), "path", dest)
}
