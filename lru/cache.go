// Package lru provides a fixed-capacity key/value cache with
// least-recently-used eviction.
//
// All list nodes live in a memory pool allocated up front: the recency list
// is a sentinel-headed cyclic list of pool slots linked by integer indices,
// and a bitmap allocator hands out slots. After construction the cache
// performs no per-node allocations.
//
// The capacity must be a multiple of 64 (the bitmap word size) and at least
// 128.
//
//	c := lru.New[int, string](128)
//	c.Insert(42, "fourtytwo")
//	if v, ok := c.Lookup(42, true); ok {
//		// hit
//	}
package lru

import (
	"fmt"
	"sync"
)

// Counters is a snapshot of cache operation counts.
type Counters struct {
	Hits         uint64
	Misses       uint64
	Inserts      uint64
	Updates      uint64
	Replacements uint64
	Forgets      uint64
	Drops        uint64
}

// Cache is a bounded map with recently-used ordering.
//
// By default all operations are serialized by an internal mutex; construct
// with WithoutLocking for single-goroutine use.
type Cache[K comparable, V any] struct {
	mu     sync.Mutex
	locked bool // take mu around operations
	paused bool

	size  int
	gauge int

	pool  nodePool[K]
	table map[K]tableEntry[V]

	filterAt int32 // current filter position, -1 when no filter is active

	counters Counters
}

type tableEntry[V any] struct {
	slot  int32
	value V
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	locking bool
}

// WithoutLocking disables the internal mutex. The cache is then safe for
// use from a single goroutine only.
func WithoutLocking() Option {
	return func(c *config) {
		c.locking = false
	}
}

// New creates a cache holding at most size entries. It panics if size is
// not a positive multiple of 64 or is smaller than 128.
func New[K comparable, V any](size int, opts ...Option) *Cache[K, V] {
	if size < 128 || size%64 != 0 {
		panic(fmt.Sprintf("lru: cache size %d must be a multiple of 64 and >= 128", size))
	}
	cfg := config{locking: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Cache[K, V]{
		locked:   cfg.locking,
		size:     size,
		table:    make(map[K]tableEntry[V], size),
		filterAt: noFilter,
	}
	c.pool.init(size)
	return c
}

const noFilter = int32(-1)

func (c *Cache[K, V]) lock() {
	if c.locked {
		c.mu.Lock()
	}
}

func (c *Cache[K, V]) unlock() {
	if c.locked {
		c.mu.Unlock()
	}
}

// Insert adds a key-value pair, evicting the least recently used entry if
// the cache is full. If key is already present, its value is updated and
// the entry moves to the most-recently-used end. Returns true on a fresh
// insert and false on an update (or while paused).
func (c *Cache[K, V]) Insert(key K, value V) bool {
	c.lock()
	defer c.unlock()
	if c.paused {
		return false
	}

	if entry, ok := c.table[key]; ok {
		c.counters.Updates++
		entry.value = value
		c.table[key] = entry
		c.pool.moveToBack(entry.slot)
		return false
	}

	c.counters.Inserts++
	if c.gauge >= c.size {
		c.evictOldest()
	}

	slot := c.pool.pushBack(key)
	c.table[key] = tableEntry[V]{slot: slot, value: value}
	c.gauge++
	return true
}

// Update moves an existing entry to the most-recently-used end. The key
// must be present; calling Update on an absent key is a programming error
// and panics. While paused, Update does nothing.
func (c *Cache[K, V]) Update(key K) {
	c.lock()
	defer c.unlock()
	if c.paused {
		return
	}
	entry, ok := c.table[key]
	if !ok {
		panic("lru: Update on absent key")
	}
	c.counters.Updates++
	c.pool.moveToBack(entry.slot)
}

// UpdateValue replaces the value of an existing entry without changing the
// recency order. Returns false if the key is absent or the cache is paused.
func (c *Cache[K, V]) UpdateValue(key K, value V) bool {
	c.lock()
	defer c.unlock()
	if c.paused {
		return false
	}
	entry, ok := c.table[key]
	if !ok {
		return false
	}
	entry.value = value
	c.table[key] = entry
	return true
}

// Lookup retrieves the value stored for key. On a hit the entry is moved
// to the most-recently-used end unless updateLRU is false.
func (c *Cache[K, V]) Lookup(key K, updateLRU bool) (V, bool) {
	var zero V
	c.lock()
	defer c.unlock()
	if c.paused {
		return zero, false
	}
	entry, ok := c.table[key]
	if !ok {
		c.counters.Misses++
		return zero, false
	}
	c.counters.Hits++
	if updateLRU {
		c.pool.moveToBack(entry.slot)
	}
	return entry.value, true
}

// Forget removes the entry for key if present.
func (c *Cache[K, V]) Forget(key K) bool {
	c.lock()
	defer c.unlock()
	if c.paused {
		return false
	}
	entry, ok := c.table[key]
	if !ok {
		return false
	}
	c.counters.Forgets++
	c.pool.remove(entry.slot)
	delete(c.table, key)
	c.gauge--
	return true
}

// Drop empties the cache. The node pool remains allocated at full size.
func (c *Cache[K, V]) Drop() {
	c.lock()
	defer c.unlock()
	c.counters.Drops++
	c.gauge = 0
	c.pool.clear()
	clear(c.table)
}

// Pause makes Insert, Update, UpdateValue, Lookup and Forget no-ops until
// Resume; those that return a result report false. Drop still empties the
// cache while paused. Used to prevent cache poisoning while upstream state is transiently
// inconsistent.
func (c *Cache[K, V]) Pause() {
	c.lock()
	c.paused = true
	c.unlock()
}

// Resume re-enables operations after Pause.
func (c *Cache[K, V]) Resume() {
	c.lock()
	c.paused = false
	c.unlock()
}

// IsFull reports whether the cache is at capacity.
func (c *Cache[K, V]) IsFull() bool {
	c.lock()
	defer c.unlock()
	return c.gauge >= c.size
}

// IsEmpty reports whether the cache holds no entries.
func (c *Cache[K, V]) IsEmpty() bool {
	c.lock()
	defer c.unlock()
	return c.gauge == 0
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.lock()
	defer c.unlock()
	return c.gauge
}

// Counters returns a snapshot of the operation counters.
func (c *Cache[K, V]) Counters() Counters {
	c.lock()
	defer c.unlock()
	return c.counters
}

func (c *Cache[K, V]) evictOldest() {
	c.counters.Replacements++
	key := c.pool.popFront()
	delete(c.table, key)
	c.gauge--
}

// FilterBegin starts an in-order traversal from the least recently used
// entry toward the most recently used one. The cache stays locked until
// FilterEnd; no other goroutine may operate on the cache in between, and
// the filtering goroutine must not call other cache methods.
func (c *Cache[K, V]) FilterBegin() {
	if c.filterAt != noFilter {
		panic("lru: nested filter")
	}
	c.lock()
	c.filterAt = c.pool.sentinel
}

// FilterGet returns the key and value at the current filter position.
func (c *Cache[K, V]) FilterGet() (K, V) {
	if c.filterAt == noFilter || c.filterAt == c.pool.sentinel {
		panic("lru: FilterGet outside traversal")
	}
	key := c.pool.nodes[c.filterAt].key
	entry, ok := c.table[key]
	if !ok {
		panic("lru: filter position not in table")
	}
	return key, entry.value
}

// FilterNext advances the traversal. It returns false upon reaching the
// end of the list.
func (c *Cache[K, V]) FilterNext() bool {
	if c.filterAt == noFilter {
		panic("lru: FilterNext without FilterBegin")
	}
	c.filterAt = c.pool.nodes[c.filterAt].next
	return c.filterAt != c.pool.sentinel
}

// FilterDelete removes the entry at the current position. The traversal
// continues with the next FilterNext call.
func (c *Cache[K, V]) FilterDelete() {
	if c.filterAt == noFilter || c.filterAt == c.pool.sentinel {
		panic("lru: FilterDelete outside traversal")
	}
	slot := c.filterAt
	c.filterAt = c.pool.nodes[slot].prev
	c.counters.Forgets++
	key := c.pool.nodes[slot].key
	c.pool.remove(slot)
	delete(c.table, key)
	c.gauge--
}

// FilterEnd finishes the traversal and unlocks the cache.
func (c *Cache[K, V]) FilterEnd() {
	if c.filterAt == noFilter {
		panic("lru: FilterEnd without FilterBegin")
	}
	c.filterAt = noFilter
	c.unlock()
}
