// Package stream implements a cache manager that streams regular data
// objects from the network on demand while catalogs and pinned objects go
// through a backing cache manager.
//
// Descriptors handed out by this manager are virtual: a slot either wraps
// a descriptor of the backing cache or carries the object identifier that
// every read streams from the transport. Stream-backed reads hold no state
// between calls; each Pread downloads the object again and copies the
// requested window out of the passing byte stream.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/download"
	"github.com/rillfs/rill/internal/fdtable"
	"github.com/rillfs/rill/oid"
)

// fdInfo is the per-descriptor state. Exactly one of the two fields is
// populated: fdInCache for objects resident in the backing cache,
// objectID for stream-backed descriptors.
type fdInfo struct {
	fdInCache int
	objectID  oid.Hash
	label     cachemgr.Label
}

func (i fdInfo) isValid() bool {
	return i.fdInCache >= 0 || !i.objectID.IsNull()
}

// Manager is the streaming cache manager.
type Manager struct {
	backing cachemgr.Manager
	logger  *slog.Logger

	dlMu sync.RWMutex
	dl   download.Manager

	mu  sync.Mutex
	fds *fdtable.Table[fdInfo]
}

var _ cachemgr.Manager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for streaming diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a streaming cache manager in front of backing. dl may be nil
// at construction and patched in later with SetDownloadManager; the cache
// manager is typically created before the transport during mount setup.
func New(maxOpenFds int, backing cachemgr.Manager, dl download.Manager, opts ...Option) *Manager {
	m := &Manager{
		backing: backing,
		dl:      dl,
		fds:     fdtable.New[fdInfo](maxOpenFds),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetDownloadManager patches in the transport after construction.
func (m *Manager) SetDownloadManager(dl download.Manager) {
	m.dlMu.Lock()
	m.dl = dl
	m.dlMu.Unlock()
}

func (m *Manager) downloadManager() download.Manager {
	m.dlMu.RLock()
	defer m.dlMu.RUnlock()
	return m.dl
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// ID implements cachemgr.Manager.
func (m *Manager) ID() cachemgr.ManagerID {
	return cachemgr.StreamingCacheManager
}

// Describe implements cachemgr.Manager.
func (m *Manager) Describe() string {
	return "streaming shim, underlying cache manager: " + m.backing.Describe()
}

// AcquireQuotaManager implements cachemgr.Manager by delegating to the
// backing cache.
func (m *Manager) AcquireQuotaManager(q cachemgr.QuotaManager) bool {
	return m.backing.AcquireQuotaManager(q)
}

// QuotaManager implements cachemgr.Manager.
func (m *Manager) QuotaManager() cachemgr.QuotaManager {
	return m.backing.QuotaManager()
}

// Spawn implements cachemgr.Manager.
func (m *Manager) Spawn() {
	m.backing.Spawn()
}

func (m *Manager) openFd(info fdInfo) (int, error) {
	m.mu.Lock()
	fd, err := m.fds.OpenFd(info)
	m.mu.Unlock()
	if err != nil {
		return -1, cachemgr.ErrTooManyOpenFiles
	}
	return fd, nil
}

func (m *Manager) getHandle(fd int) (fdInfo, error) {
	m.mu.Lock()
	info, ok := m.fds.GetHandle(fd)
	m.mu.Unlock()
	if !ok || !info.isValid() {
		return fdInfo{}, cachemgr.ErrBadFD
	}
	return info, nil
}

// Open implements cachemgr.Manager. Objects resident in the backing cache
// are wrapped; missing regular objects get a stream-backed descriptor
// without any I/O. Catalogs and pinned objects must materialize in the
// backing cache, so a miss stays a miss.
func (m *Manager) Open(object cachemgr.LabeledObject) (int, error) {
	fd, err := m.backing.Open(object)
	if err == nil {
		vfd, verr := m.openFd(fdInfo{fdInCache: fd})
		if verr != nil {
			_ = m.backing.Close(fd)
			return -1, verr
		}
		return vfd, nil
	}
	if !errors.Is(err, cachemgr.ErrNotFound) {
		return -1, err
	}
	if object.Label.MustMaterialize() {
		return -1, err
	}
	return m.openFd(fdInfo{fdInCache: -1, objectID: object.ID, label: object.Label})
}

// GetSize implements cachemgr.Manager. For stream-backed descriptors the
// object is streamed with a null window; the byte count of the network
// path is authoritative when nothing is on disk.
func (m *Manager) GetSize(fd int) (int64, error) {
	info, err := m.getHandle(fd)
	if err != nil {
		return -1, err
	}
	if info.fdInCache >= 0 {
		return m.backing.GetSize(info.fdInCache)
	}
	return m.stream(info, nil, 0)
}

// Close implements cachemgr.Manager.
func (m *Manager) Close(fd int) error {
	m.mu.Lock()
	info, ok := m.fds.GetHandle(fd)
	if ok {
		m.fds.CloseFd(fd)
	}
	m.mu.Unlock()
	if !ok || !info.isValid() {
		return cachemgr.ErrBadFD
	}
	if info.fdInCache >= 0 {
		return m.backing.Close(info.fdInCache)
	}
	return nil
}

// Pread implements cachemgr.Manager. Stream-backed reads download the
// object and copy the window [offset, offset+len(buf)) out of the passing
// stream; the object is not stored.
func (m *Manager) Pread(fd int, buf []byte, offset int64) (int, error) {
	info, err := m.getHandle(fd)
	if err != nil {
		return 0, err
	}
	if info.fdInCache >= 0 {
		return m.backing.Pread(info.fdInCache, buf, offset)
	}
	objectSize, err := m.stream(info, buf, offset)
	if err != nil {
		return 0, err
	}
	window := min(int64(len(buf)), objectSize-offset)
	if window < 0 {
		window = 0
	}
	return int(window), nil
}

// Dup implements cachemgr.Manager.
func (m *Manager) Dup(fd int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.fds.GetHandle(fd)
	if !ok || !info.isValid() {
		return -1, cachemgr.ErrBadFD
	}
	if info.fdInCache >= 0 {
		dupFd, err := m.backing.Dup(info.fdInCache)
		if err != nil {
			return -1, err
		}
		fd, err := m.fds.OpenFd(fdInfo{fdInCache: dupFd})
		if err != nil {
			_ = m.backing.Close(dupFd)
			return -1, cachemgr.ErrTooManyOpenFiles
		}
		return fd, nil
	}
	fd, err := m.fds.OpenFd(fdInfo{fdInCache: -1, objectID: info.objectID, label: info.label})
	if err != nil {
		return -1, cachemgr.ErrTooManyOpenFiles
	}
	return fd, nil
}

// Readahead implements cachemgr.Manager. Stream-backed descriptors have
// nothing to read ahead.
func (m *Manager) Readahead(fd int) error {
	info, err := m.getHandle(fd)
	if err != nil {
		return err
	}
	if info.fdInCache >= 0 {
		return m.backing.Readahead(info.fdInCache)
	}
	return nil
}

// StartTxn implements cachemgr.Manager. Only catalogs and pinned objects
// are written to the cache; transactions pass through to the backing cache
// manager.
func (m *Manager) StartTxn(id oid.Hash, size int64) (cachemgr.Txn, error) {
	return m.backing.StartTxn(id, size)
}

// OpenFromTxn implements cachemgr.Manager, wrapping the backing
// descriptor in a virtual one.
func (m *Manager) OpenFromTxn(txn cachemgr.Txn) (int, error) {
	fd, err := m.backing.OpenFromTxn(txn)
	if err != nil {
		return -1, err
	}
	vfd, err := m.openFd(fdInfo{fdInCache: fd})
	if err != nil {
		_ = m.backing.Close(fd)
		return -1, err
	}
	return vfd, nil
}

// LoadBreadcrumb implements cachemgr.Manager.
func (m *Manager) LoadBreadcrumb(fqrn string) (cachemgr.Breadcrumb, bool) {
	return m.backing.LoadBreadcrumb(fqrn)
}

// StoreBreadcrumb implements cachemgr.Manager.
func (m *Manager) StoreBreadcrumb(fqrn string, breadcrumb cachemgr.Breadcrumb) error {
	return m.backing.StoreBreadcrumb(fqrn, breadcrumb)
}

// stream downloads the complete object and returns its size. The section
// of the object intersecting the window is copied into buf, which may be
// nil when only the size is of interest.
func (m *Manager) stream(info fdInfo, buf []byte, offset int64) (int64, error) {
	dl := m.downloadManager()
	if dl == nil {
		return -1, fmt.Errorf("%w: no download manager attached", cachemgr.ErrIO)
	}

	sink := &windowSink{window: buf, offset: offset}
	path := info.objectID.CachePath()
	if info.label.IsExternal() && info.label.Path != "" {
		path = info.label.Path
	}
	job := &download.JobInfo{
		Path:         path,
		Sink:         sink,
		Compression:  info.label.Compression,
		ProbeHosts:   true,
		ExpectedHash: info.objectID,
	}
	if err := dl.Fetch(job); err != nil {
		m.log().Debug("streaming fetch failed", "object", info.objectID.String(), "error", err)
		return -1, fmt.Errorf("%w: stream %s: %v", cachemgr.ErrIO, info.objectID, err)
	}
	return sink.bytesStreamed(), nil
}
