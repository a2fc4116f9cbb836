// Package posix implements the cache-manager contract on a local
// filesystem. Objects live under <root>/data in content-addressed paths,
// transactions stage their data as temporary files under <root>/txn and
// publish atomically via rename, and objects failing integrity checks on
// commit are moved to <root>/quarantined for inspection.
package posix

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/internal/fdtable"
	"github.com/rillfs/rill/oid"
)

const (
	defaultMaxOpenFds = 1024
	defaultDirPerm    = 0o700

	txnDirName        = "txn"
	quarantineDirName = "quarantined"
	breadcrumbPrefix  = "breadcrumb."
)

// handle is the per-descriptor state: an open file plus the path to reopen
// on Dup.
type handle struct {
	file *os.File
	path string
}

// Manager is a disk-backed cache manager.
type Manager struct {
	root   string
	logger *slog.Logger

	mu  sync.Mutex
	fds *fdtable.Table[handle]

	quotaMu sync.Mutex
	quota   cachemgr.QuotaManager
}

var _ cachemgr.Manager = (*Manager)(nil)

// Option configures a Manager.
type Option func(*managerConfig)

type managerConfig struct {
	maxOpenFds int
	logger     *slog.Logger
}

// WithMaxOpenFds bounds the number of simultaneously open descriptors.
func WithMaxOpenFds(n int) Option {
	return func(cfg *managerConfig) {
		cfg.maxOpenFds = n
	}
}

// WithLogger sets the logger for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *managerConfig) {
		cfg.logger = logger
	}
}

// New creates a disk cache rooted at root, creating the directory layout
// as needed.
func New(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, errors.New("cache root is empty")
	}
	cfg := managerConfig{maxOpenFds: defaultMaxOpenFds}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxOpenFds <= 0 {
		return nil, fmt.Errorf("invalid max open fds %d", cfg.maxOpenFds)
	}
	for _, dir := range []string{root, filepath.Join(root, txnDirName), filepath.Join(root, quarantineDirName)} {
		if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
			return nil, err
		}
	}
	return &Manager{
		root:   root,
		logger: cfg.logger,
		fds:    fdtable.New[handle](cfg.maxOpenFds),
		quota:  cachemgr.NoopQuotaManager{},
	}, nil
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// ID implements cachemgr.Manager.
func (m *Manager) ID() cachemgr.ManagerID {
	return cachemgr.PosixCacheManager
}

// Describe implements cachemgr.Manager.
func (m *Manager) Describe() string {
	return "posix cache manager at " + m.root
}

// AcquireQuotaManager implements cachemgr.Manager.
func (m *Manager) AcquireQuotaManager(q cachemgr.QuotaManager) bool {
	if q == nil {
		return false
	}
	m.quotaMu.Lock()
	m.quota = q
	m.quotaMu.Unlock()
	return true
}

// QuotaManager implements cachemgr.Manager.
func (m *Manager) QuotaManager() cachemgr.QuotaManager {
	m.quotaMu.Lock()
	defer m.quotaMu.Unlock()
	return m.quota
}

// Spawn implements cachemgr.Manager. The posix cache has no background
// threads.
func (m *Manager) Spawn() {}

// objectPath returns the absolute path of an object in the cache.
func (m *Manager) objectPath(id oid.Hash) string {
	return filepath.Join(m.root, filepath.FromSlash(id.CachePath()))
}

// Open implements cachemgr.Manager.
func (m *Manager) Open(object cachemgr.LabeledObject) (int, error) {
	file, err := os.Open(m.objectPath(object.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return -1, fmt.Errorf("%w: %s", cachemgr.ErrNotFound, object.ID)
		}
		return -1, fmt.Errorf("open %s: %w", object.ID, err)
	}
	return m.wrapFile(file)
}

func (m *Manager) wrapFile(file *os.File) (int, error) {
	m.mu.Lock()
	fd, err := m.fds.OpenFd(handle{file: file, path: file.Name()})
	m.mu.Unlock()
	if err != nil {
		_ = file.Close()
		return -1, cachemgr.ErrTooManyOpenFiles
	}
	return fd, nil
}

func (m *Manager) getHandle(fd int) (handle, error) {
	m.mu.Lock()
	h, ok := m.fds.GetHandle(fd)
	m.mu.Unlock()
	if !ok {
		return handle{}, cachemgr.ErrBadFD
	}
	return h, nil
}

// GetSize implements cachemgr.Manager.
func (m *Manager) GetSize(fd int) (int64, error) {
	h, err := m.getHandle(fd)
	if err != nil {
		return -1, err
	}
	info, err := h.file.Stat()
	if err != nil {
		return -1, fmt.Errorf("%w: stat: %v", cachemgr.ErrIO, err)
	}
	return info.Size(), nil
}

// Close implements cachemgr.Manager.
func (m *Manager) Close(fd int) error {
	m.mu.Lock()
	h, ok := m.fds.GetHandle(fd)
	if ok {
		m.fds.CloseFd(fd)
	}
	m.mu.Unlock()
	if !ok {
		return cachemgr.ErrBadFD
	}
	return h.file.Close()
}

// Pread implements cachemgr.Manager. Reads past the end of the object
// return 0 bytes.
func (m *Manager) Pread(fd int, buf []byte, offset int64) (int, error) {
	h, err := m.getHandle(fd)
	if err != nil {
		return 0, err
	}
	n, err := h.file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: pread: %v", cachemgr.ErrIO, err)
	}
	return n, nil
}

// Dup implements cachemgr.Manager by reopening the object.
func (m *Manager) Dup(fd int) (int, error) {
	h, err := m.getHandle(fd)
	if err != nil {
		return -1, err
	}
	file, err := os.Open(h.path)
	if err != nil {
		return -1, fmt.Errorf("%w: dup: %v", cachemgr.ErrIO, err)
	}
	return m.wrapFile(file)
}

// Readahead implements cachemgr.Manager. The kernel's readahead heuristics
// suffice for cache files; only descriptor validity is checked.
func (m *Manager) Readahead(fd int) error {
	_, err := m.getHandle(fd)
	return err
}

// LoadBreadcrumb implements cachemgr.Manager.
func (m *Manager) LoadBreadcrumb(fqrn string) (cachemgr.Breadcrumb, bool) {
	return loadBreadcrumb(filepath.Join(m.root, breadcrumbPrefix+fqrn))
}

// StoreBreadcrumb implements cachemgr.Manager.
func (m *Manager) StoreBreadcrumb(fqrn string, breadcrumb cachemgr.Breadcrumb) error {
	return storeBreadcrumb(filepath.Join(m.root, breadcrumbPrefix+fqrn), breadcrumb)
}
