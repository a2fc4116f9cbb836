// Package testutil provides in-memory doubles for the cache layer's
// external collaborators.
package testutil

import (
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/rillfs/rill/download"
	"github.com/rillfs/rill/oid"
)

const defaultChunkSize = 3

// MockDownloadManager serves registered objects from memory. It counts
// fetches per path and can inject failures, which makes it suitable for
// asserting single-flight behavior.
//
// Content is delivered in small chunks so window arithmetic in sinks is
// exercised across chunk boundaries.
type MockDownloadManager struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failures   map[string]error
	fetchCount map[string]int

	// ChunkSize is the delivery granularity. The default is deliberately
	// tiny.
	ChunkSize int

	// FetchHook, when set, runs at the start of every Fetch, outside the
	// mutex. Tests use it to hold a download open.
	FetchHook func(path string)
}

var _ download.Manager = (*MockDownloadManager)(nil)

// NewMockDownloadManager creates an empty mock transport.
func NewMockDownloadManager() *MockDownloadManager {
	return &MockDownloadManager{
		objects:    make(map[string][]byte),
		failures:   make(map[string]error),
		fetchCount: make(map[string]int),
		ChunkSize:  defaultChunkSize,
	}
}

// AddObject registers content under the content-addressed path of id.
func (m *MockDownloadManager) AddObject(id oid.Hash, content []byte) {
	m.AddPath(id.CachePath(), content)
}

// AddPath registers content under an arbitrary path.
func (m *MockDownloadManager) AddPath(path string, content []byte) {
	m.mu.Lock()
	m.objects[path] = content
	m.mu.Unlock()
}

// FailWith makes fetches of path fail with err.
func (m *MockDownloadManager) FailWith(path string, err error) {
	m.mu.Lock()
	m.failures[path] = err
	m.mu.Unlock()
}

// FetchCount returns how often path was fetched.
func (m *MockDownloadManager) FetchCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCount[path]
}

// TotalFetches returns the number of Fetch calls across all paths.
func (m *MockDownloadManager) TotalFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.fetchCount {
		total += n
	}
	return total
}

// Fetch implements download.Manager.
func (m *MockDownloadManager) Fetch(job *download.JobInfo) error {
	m.mu.Lock()
	m.fetchCount[job.Path]++
	hook := m.FetchHook
	m.mu.Unlock()

	if hook != nil {
		hook(job.Path)
	}

	m.mu.Lock()
	err, failed := m.failures[job.Path]
	content, ok := m.objects[job.Path]
	if !ok && job.AltPath != "" {
		content, ok = m.objects[job.AltPath]
	}
	m.mu.Unlock()

	if failed {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", download.ErrNotFound, job.Path)
	}

	var verifier digest.Verifier
	if !job.ExpectedHash.IsNull() {
		verifier = job.ExpectedHash.Verifier()
	}
	chunk := m.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	for off := 0; ; off += chunk {
		end := min(off+chunk, len(content))
		p := content[off:end]
		if _, err := job.Sink.Write(p); err != nil {
			return err
		}
		if verifier != nil {
			_, _ = verifier.Write(p)
		}
		if end == len(content) {
			break
		}
	}
	if verifier != nil && !verifier.Verified() {
		return fmt.Errorf("%w: %s", download.ErrHashMismatch, job.ExpectedHash)
	}
	return nil
}
