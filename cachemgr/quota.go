package cachemgr

import (
	"sync"

	"github.com/rillfs/rill/oid"
)

// QuotaManager accounts for cache space. Cache managers report committed
// and pinned objects; the quota manager decides what to evict and when.
type QuotaManager interface {
	// Insert registers a committed object.
	Insert(id oid.Hash, size uint64, path string)

	// InsertVolatile registers a committed object that should be evicted
	// before regular objects.
	InsertVolatile(id oid.Hash, size uint64, path string)

	// Pin protects an object from eviction. It reports false when pinning
	// would exceed the pinned-space budget.
	Pin(id oid.Hash, size uint64, path string, isCatalog bool) bool

	// Remove drops an object from the accounting.
	Remove(id oid.Hash)

	// Capacity returns the managed cache size in bytes (0 = unmanaged).
	Capacity() uint64

	// Used returns the accounted bytes.
	Used() uint64
}

// NoopQuotaManager ignores all accounting. It is the default quota manager
// of cache managers that run without a quota limit.
type NoopQuotaManager struct{}

var _ QuotaManager = NoopQuotaManager{}

func (NoopQuotaManager) Insert(oid.Hash, uint64, string)         {}
func (NoopQuotaManager) InsertVolatile(oid.Hash, uint64, string) {}
func (NoopQuotaManager) Pin(oid.Hash, uint64, string, bool) bool { return true }
func (NoopQuotaManager) Remove(oid.Hash)                         {}
func (NoopQuotaManager) Capacity() uint64                        { return 0 }
func (NoopQuotaManager) Used() uint64                            { return 0 }

// MemQuotaManager keeps the accounting in memory. It never evicts; it only
// tracks usage and enforces the pinned budget. Mainly used in tests and by
// cache setups whose eviction runs out of process.
type MemQuotaManager struct {
	mu        sync.Mutex
	capacity  uint64
	pinBudget uint64
	used      uint64
	pinned    uint64
	objects   map[oid.Hash]uint64
	pins      map[oid.Hash]struct{}
}

var _ QuotaManager = (*MemQuotaManager)(nil)

// NewMemQuotaManager creates an accounting-only quota manager. pinBudget
// bounds the total size of pinned objects; zero means "no pinning limit".
func NewMemQuotaManager(capacity, pinBudget uint64) *MemQuotaManager {
	return &MemQuotaManager{
		capacity:  capacity,
		pinBudget: pinBudget,
		objects:   make(map[oid.Hash]uint64),
		pins:      make(map[oid.Hash]struct{}),
	}
}

func (q *MemQuotaManager) Insert(id oid.Hash, size uint64, _ string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insertLocked(id, size)
}

func (q *MemQuotaManager) InsertVolatile(id oid.Hash, size uint64, _ string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insertLocked(id, size)
}

func (q *MemQuotaManager) insertLocked(id oid.Hash, size uint64) {
	if old, ok := q.objects[id]; ok {
		q.used -= old
	}
	q.objects[id] = size
	q.used += size
}

func (q *MemQuotaManager) Pin(id oid.Hash, size uint64, _ string, _ bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pins[id]; ok {
		return true
	}
	if q.pinBudget > 0 && q.pinned+size > q.pinBudget {
		return false
	}
	q.pins[id] = struct{}{}
	q.pinned += size
	if _, ok := q.objects[id]; !ok {
		q.insertLocked(id, size)
	}
	return true
}

func (q *MemQuotaManager) Remove(id oid.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()
	size, tracked := q.objects[id]
	if tracked {
		q.used -= size
		delete(q.objects, id)
	}
	if _, ok := q.pins[id]; ok {
		q.pinned -= size
		delete(q.pins, id)
	}
}

func (q *MemQuotaManager) Capacity() uint64 {
	return q.capacity
}

func (q *MemQuotaManager) Used() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}
