// Package fetch turns object identifiers into cache descriptors, fetching
// missing objects through the download transport.
//
// Concurrent requests for the same object are coalesced: the first caller
// becomes the active downloader and binds the download to a transaction on
// the backing cache; everyone else queues on the object's wait list and is
// handed a privately duplicated descriptor (or the downloader's exact
// error) once the download settles. At most one download is in flight per
// object identifier.
package fetch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/download"
	"github.com/rillfs/rill/oid"
)

// result is the single value a waiter receives: a private descriptor or
// the downloader's error.
type result struct {
	fd  int
	err error
}

// Fetcher coalesces downloads into the backing cache.
//
// The backing cache manager must be the materializing one (not a streaming
// shim): every successful fetch ends with the object committed there.
type Fetcher struct {
	cache  cachemgr.Manager
	dl     download.Manager
	logger *slog.Logger

	// mu protects inflight. It is never held across calls into the cache
	// or the transport; a freshly promoted downloader performs its second
	// cache probe after releasing it.
	mu       sync.Mutex
	inflight map[oid.Hash][]chan result
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger for fetch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher downloading through dl into cache.
func New(cache cachemgr.Manager, dl download.Manager, opts ...Option) *Fetcher {
	f := &Fetcher{
		cache:    cache,
		dl:       dl,
		inflight: make(map[oid.Hash][]chan result),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// FetchOption configures a single fetch.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	altPath string
}

// WithAltPath supplies a fallback location the transport tries when the
// content-addressed path yields a 404.
func WithAltPath(path string) FetchOption {
	return func(cfg *fetchConfig) {
		cfg.altPath = path
	}
}

// Fetch returns a descriptor on the backing cache for the object,
// downloading and committing it first if necessary. The caller owns the
// returned descriptor and must close it.
func (f *Fetcher) Fetch(object cachemgr.LabeledObject, opts ...FetchOption) (int, error) {
	cfg := fetchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Fast path: the object is usually already cached, and a plain open
	// skips all queue logic.
	fd, err := f.cache.Open(object)
	if err == nil {
		return fd, nil
	}
	if !errors.Is(err, cachemgr.ErrNotFound) {
		return -1, err
	}

	ch, active := f.joinOrLead(object.ID)
	if !active {
		// Piggy-back: a download for this object is already in flight.
		res := <-ch
		return res.fd, res.err
	}

	// This caller is now the active downloader for the object. Another
	// thread may have finished a download between the fast path and the
	// queue registration, so probe once more before going to the network.
	fd, err = f.cache.Open(object)
	if err == nil {
		return f.settle(object.ID, fd, nil)
	}

	fd, err = f.download(object, cfg.altPath)
	return f.settle(object.ID, fd, err)
}

// joinOrLead registers interest in object id. It returns active=true when
// the caller became the downloader, otherwise a channel on which the
// single result will arrive.
func (f *Fetcher) joinOrLead(id oid.Hash) (<-chan result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if waiters, ok := f.inflight[id]; ok {
		ch := make(chan result, 1)
		f.inflight[id] = append(waiters, ch)
		return ch, false
	}
	f.inflight[id] = nil
	return nil, true
}

// settle hands the download outcome to every queued waiter, in queue
// order, each with a privately duplicated descriptor. The canonical fd is
// returned to the downloader's own caller.
func (f *Fetcher) settle(id oid.Hash, fd int, ferr error) (int, error) {
	f.mu.Lock()
	waiters := f.inflight[id]
	delete(f.inflight, id)
	f.mu.Unlock()

	for _, ch := range waiters {
		if ferr != nil {
			ch <- result{fd: -1, err: ferr}
			continue
		}
		dupFd, err := f.cache.Dup(fd)
		if err != nil {
			// Only this waiter is affected; the canonical descriptor is
			// still good for everyone else.
			ch <- result{fd: -1, err: err}
			continue
		}
		ch <- result{fd: dupFd}
	}
	return fd, ferr
}

// download runs the transactional download: stage the object in a cache
// transaction, stream the transport into it, commit, and open the
// committed object.
func (f *Fetcher) download(object cachemgr.LabeledObject, altPath string) (int, error) {
	id, label := object.ID, object.Label

	txn, err := f.cache.StartTxn(id, label.Size)
	if err != nil {
		return -1, err
	}
	txn.Ctrl(label)

	path := id.CachePath()
	if label.IsExternal() && label.Path != "" {
		path = label.Path
	}
	job := &download.JobInfo{
		Path:         path,
		AltPath:      altPath,
		Sink:         txnSink{txn},
		Compression:  label.Compression,
		ProbeHosts:   true,
		ExpectedHash: id,
	}

	f.log().Debug("downloading object", "object", id.String(), "path", label.Path)
	if err := f.dl.Fetch(job); err != nil {
		_ = txn.Abort()
		return -1, fmt.Errorf("%w: download %s: %v", cachemgr.ErrIO, id, err)
	}
	if err := txn.Commit(); err != nil {
		// Commit already disposed of the staged data (quarantining it on
		// an integrity failure).
		return -1, err
	}

	fd, err := f.cache.Open(object)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// txnSink adapts a cache transaction to the transport's sink contract.
type txnSink struct {
	txn cachemgr.Txn
}

var _ download.Sink = txnSink{}

func (s txnSink) Write(p []byte) (int, error) {
	return s.txn.Write(p)
}

func (s txnSink) Reset() error {
	return s.txn.Reset()
}
