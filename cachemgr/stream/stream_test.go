package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/cachemgr/posix"
	"github.com/rillfs/rill/internal/testutil"
	"github.com/rillfs/rill/oid"
)

func newTestManager(t *testing.T, maxOpenFds int) (*Manager, *posix.Manager, *testutil.MockDownloadManager) {
	t.Helper()
	backing, err := posix.New(t.TempDir())
	require.NoError(t, err)
	dl := testutil.NewMockDownloadManager()
	return New(maxOpenFds, backing, dl), backing, dl
}

// commitToBacking stores content in the backing cache via a transaction.
func commitToBacking(t *testing.T, backing *posix.Manager, content []byte, suffix oid.Suffix) oid.Hash {
	t.Helper()
	id := oid.FromBytes(content, suffix)
	txn, err := backing.StartTxn(id, int64(len(content)))
	require.NoError(t, err)
	_, err = txn.Write(content)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())
	return id
}

func dataObject(id oid.Hash) cachemgr.LabeledObject {
	return cachemgr.LabeledObject{ID: id, Label: cachemgr.DefaultLabel()}
}

func TestOpenCacheResident(t *testing.T) {
	t.Parallel()

	m, backing, dl := newTestManager(t, 16)
	content := []byte("resident")
	id := commitToBacking(t, backing, content, oid.SuffixNone)

	fd, err := m.Open(dataObject(id))
	require.NoError(t, err)

	size, err := m.GetSize(fd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	buf := make([]byte, len(content))
	n, err := m.Pread(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, content, buf[:n])

	require.NoError(t, m.Close(fd))
	assert.Zero(t, dl.TotalFetches(), "cache-resident reads must not hit the network")
}

func TestOpenMissRegularObjectStreams(t *testing.T) {
	t.Parallel()

	m, _, dl := newTestManager(t, 16)
	content := []byte("streamed object")
	id := oid.FromBytes(content, oid.SuffixNone)
	dl.AddObject(id, content)

	// Open succeeds without any I/O.
	fd, err := m.Open(dataObject(id))
	require.NoError(t, err)
	assert.Zero(t, dl.TotalFetches())

	buf := make([]byte, len(content))
	n, err := m.Pread(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(content), n)
	assert.Equal(t, content, buf)
	assert.Equal(t, 1, dl.TotalFetches())

	require.NoError(t, m.Close(fd))
}

func TestOpenMissCatalogStaysMiss(t *testing.T) {
	t.Parallel()

	m, _, dl := newTestManager(t, 16)
	id := oid.FromBytes([]byte("catalog"), oid.SuffixCatalog)
	dl.AddObject(id, []byte("catalog"))

	object := cachemgr.LabeledObject{
		ID:    id,
		Label: cachemgr.Label{Size: 7, Flags: cachemgr.FlagCatalog},
	}
	_, err := m.Open(object)
	assert.ErrorIs(t, err, cachemgr.ErrNotFound)

	pinned := cachemgr.LabeledObject{
		ID:    oid.FromBytes([]byte("pinned"), oid.SuffixNone),
		Label: cachemgr.Label{Size: 6, Flags: cachemgr.FlagPinned},
	}
	_, err = m.Open(pinned)
	assert.ErrorIs(t, err, cachemgr.ErrNotFound)
	assert.Zero(t, dl.TotalFetches())
}

func TestStreamingWindows(t *testing.T) {
	t.Parallel()

	m, _, dl := newTestManager(t, 16)
	content := []byte{'x'}
	id := oid.FromBytes(content, oid.SuffixNone)
	dl.AddObject(id, content)

	fd, err := m.Open(dataObject(id))
	require.NoError(t, err)

	// Window covering the object.
	buf := []byte{0}
	n, err := m.Pread(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte('x'), buf[0])

	// Null window: GetSize streams and counts.
	size, err := m.GetSize(fd)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	// Window past the end: zero bytes, buffer untouched.
	buf[0] = 0xAA
	n, err = m.Pread(fd, buf, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, byte(0xAA), buf[0])

	require.NoError(t, m.Close(fd))
}

func TestStreamingWindowArithmetic(t *testing.T) {
	t.Parallel()

	m, _, dl := newTestManager(t, 16)
	content := []byte("0123456789abcdef")
	id := oid.FromBytes(content, oid.SuffixNone)
	dl.AddObject(id, content)
	dl.ChunkSize = 5 // force chunk boundaries inside the window

	fd, err := m.Open(dataObject(id))
	require.NoError(t, err)

	buf := make([]byte, 6)
	n, err := m.Pread(fd, buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte("789abc"), buf)

	// Window extending past the end is clamped.
	buf = make([]byte, 10)
	n, err = m.Pread(fd, buf, 12)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("cdef"), buf[:n])

	require.NoError(t, m.Close(fd))
}

func TestPreadDoesNotMemoize(t *testing.T) {
	t.Parallel()

	m, _, dl := newTestManager(t, 16)
	content := []byte("no caching here")
	id := oid.FromBytes(content, oid.SuffixNone)
	dl.AddObject(id, content)

	fd, err := m.Open(dataObject(id))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = m.Pread(fd, buf, 0)
	require.NoError(t, err)
	_, err = m.Pread(fd, buf, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, dl.FetchCount(id.CachePath()), "every Pread streams the object again")
	require.NoError(t, m.Close(fd))
}

func TestStreamTransportError(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, 16)
	id := oid.FromBytes([]byte("gone"), oid.SuffixNone)
	// Not registered with the mock: the transport reports not found.

	fd, err := m.Open(dataObject(id))
	require.NoError(t, err)

	_, err = m.Pread(fd, make([]byte, 4), 0)
	assert.ErrorIs(t, err, cachemgr.ErrIO)
	_, err = m.GetSize(fd)
	assert.ErrorIs(t, err, cachemgr.ErrIO)

	require.NoError(t, m.Close(fd))
}

func TestDup(t *testing.T) {
	t.Parallel()

	m, backing, dl := newTestManager(t, 16)

	// Cache-resident descriptor.
	resident := commitToBacking(t, backing, []byte("resident"), oid.SuffixNone)
	fd, err := m.Open(dataObject(resident))
	require.NoError(t, err)
	dupFd, err := m.Dup(fd)
	require.NoError(t, err)
	require.NoError(t, m.Close(fd))

	buf := make([]byte, 8)
	n, err := m.Pread(dupFd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("resident"), buf[:n])
	require.NoError(t, m.Close(dupFd))

	// Stream-backed descriptor.
	content := []byte("streamed")
	id := oid.FromBytes(content, oid.SuffixNone)
	dl.AddObject(id, content)
	fd, err = m.Open(dataObject(id))
	require.NoError(t, err)
	dupFd, err = m.Dup(fd)
	require.NoError(t, err)
	require.NoError(t, m.Close(fd))

	n, err = m.Pread(dupFd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, content, buf[:n])
	require.NoError(t, m.Close(dupFd))
}

func TestBadDescriptor(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, 16)

	_, err := m.GetSize(0)
	assert.ErrorIs(t, err, cachemgr.ErrBadFD)
	_, err = m.Pread(7, make([]byte, 1), 0)
	assert.ErrorIs(t, err, cachemgr.ErrBadFD)
	_, err = m.Dup(-1)
	assert.ErrorIs(t, err, cachemgr.ErrBadFD)
	assert.ErrorIs(t, m.Close(3), cachemgr.ErrBadFD)
	assert.ErrorIs(t, m.Readahead(3), cachemgr.ErrBadFD)
}

func TestCloseExactlyOnce(t *testing.T) {
	t.Parallel()

	m, _, dl := newTestManager(t, 16)
	content := []byte("close me")
	id := oid.FromBytes(content, oid.SuffixNone)
	dl.AddObject(id, content)

	fd, err := m.Open(dataObject(id))
	require.NoError(t, err)
	require.NoError(t, m.Close(fd))

	assert.ErrorIs(t, m.Close(fd), cachemgr.ErrBadFD)
	_, err = m.Pread(fd, make([]byte, 1), 0)
	assert.ErrorIs(t, err, cachemgr.ErrBadFD)
}

func TestFdTableExhaustion(t *testing.T) {
	t.Parallel()

	m, _, dl := newTestManager(t, 2)
	content := []byte("slots")
	id := oid.FromBytes(content, oid.SuffixNone)
	dl.AddObject(id, content)

	fd1, err := m.Open(dataObject(id))
	require.NoError(t, err)
	_, err = m.Open(dataObject(id))
	require.NoError(t, err)

	_, err = m.Open(dataObject(id))
	assert.ErrorIs(t, err, cachemgr.ErrTooManyOpenFiles)

	require.NoError(t, m.Close(fd1))
	_, err = m.Open(dataObject(id))
	assert.NoError(t, err)
}

func TestReadahead(t *testing.T) {
	t.Parallel()

	m, backing, dl := newTestManager(t, 16)
	resident := commitToBacking(t, backing, []byte("ra"), oid.SuffixNone)

	fd, err := m.Open(dataObject(resident))
	require.NoError(t, err)
	assert.NoError(t, m.Readahead(fd))
	require.NoError(t, m.Close(fd))

	content := []byte("stream ra")
	id := oid.FromBytes(content, oid.SuffixNone)
	dl.AddObject(id, content)
	fd, err = m.Open(dataObject(id))
	require.NoError(t, err)
	assert.NoError(t, m.Readahead(fd), "readahead is a no-op for stream-backed descriptors")
	require.NoError(t, m.Close(fd))
	assert.Zero(t, dl.FetchCount(id.CachePath()))
}

func TestTxnPassThrough(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, 16)
	content := []byte("committed via shim")
	id := oid.FromBytes(content, oid.SuffixNone)

	txn, err := m.StartTxn(id, int64(len(content)))
	require.NoError(t, err)
	txn.Ctrl(cachemgr.Label{Size: int64(len(content)), Flags: cachemgr.FlagCatalog})
	_, err = txn.Write(content)
	require.NoError(t, err)

	// Open-before-commit returns a virtual descriptor.
	fd, err := m.OpenFromTxn(txn)
	require.NoError(t, err)
	buf := make([]byte, len(content))
	n, err := m.Pread(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, content, buf[:n])
	require.NoError(t, m.Close(fd))

	require.NoError(t, txn.Commit())

	// The committed catalog is now cache-resident.
	object := cachemgr.LabeledObject{
		ID:    id,
		Label: cachemgr.Label{Size: int64(len(content)), Flags: cachemgr.FlagCatalog},
	}
	fd, err = m.Open(object)
	require.NoError(t, err)
	require.NoError(t, m.Close(fd))
}

func TestBreadcrumbPassThrough(t *testing.T) {
	t.Parallel()

	m, backing, _ := newTestManager(t, 16)
	b := cachemgr.Breadcrumb{
		Catalog:   oid.FromBytes([]byte("crumb"), oid.SuffixCatalog),
		Timestamp: time.Now().UTC(),
		Revision:  7,
	}

	require.NoError(t, m.StoreBreadcrumb("repo.example.org", b))
	loaded, ok := backing.LoadBreadcrumb("repo.example.org")
	require.True(t, ok, "store via the shim lands in the backing cache")
	assert.Equal(t, b.Catalog, loaded.Catalog)

	loaded, ok = m.LoadBreadcrumb("repo.example.org")
	require.True(t, ok)
	assert.Equal(t, b.Revision, loaded.Revision)
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, 16)
	assert.Equal(t, cachemgr.StreamingCacheManager, m.ID())
	assert.Contains(t, m.Describe(), "streaming shim")
	assert.Contains(t, m.Describe(), "posix")
}
