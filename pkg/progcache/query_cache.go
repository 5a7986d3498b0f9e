// Package progcache caches compiled GEMM programs keyed by specialization,
// so a (parameters, transpose, bounds-check, backend, dtype) tuple seen
// twice is compiled once. The cache owns the compiled programs; emitted
// source is transient unless a SourceStore persists it.
package progcache

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
	"github.com/kestrel-hpc/gemmforge/pkg/gemm"
)

// SourceStore optionally persists emitted kernel source text across process
// restarts, keyed by the same fingerprint as the in-memory cache. A
// badger-backed implementation lives in this package (BadgerSourceStore);
// callers that don't want persistence simply leave it nil.
type SourceStore interface {
	Get(fingerprint uint64) (source string, ok bool)
	Put(fingerprint uint64, source string) error
}

// Cache is a thread-safe LRU+TTL cache of compiled driver.Program values.
type Cache struct {
	mu sync.RWMutex

	maxSize int
	ttl     time.Duration
	enabled bool

	list  *list.List
	items map[uint64]*list.Element

	store SourceStore

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	fingerprint uint64
	prog        driver.Program
	expiresAt   time.Time
}

// New returns a Cache bounded to maxSize entries with the given TTL (0
// disables expiration). store may be nil.
func New(maxSize int, ttl time.Duration, store SourceStore) *Cache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
		store:   store,
	}
}

// Fingerprint hashes a specialization key to the 64-bit value used both as
// the in-memory map key and, when a SourceStore is configured, the
// persistence key.
func Fingerprint(key gemm.SpecializationKey) uint64 {
	h, _ := blake2b.New512(nil) // nil key: unkeyed hashing, a fingerprint not a MAC
	fmt.Fprintf(h, "%+v", key)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Get satisfies gemm.ProgramCache.
func (c *Cache) Get(key gemm.SpecializationKey) (driver.Program, bool) {
	fp := Fingerprint(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	elem, ok := c.items[fp]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return entry.prog, true
}

// Put satisfies gemm.ProgramCache. If a SourceStore is configured, the
// emitted source is also persisted so a future process can skip re-emitting
// it (recompiling is still required — compiled programs themselves aren't
// serializable across processes in this design).
func (c *Cache) Put(key gemm.SpecializationKey, prog driver.Program) {
	c.mu.RLock()
	enabled := c.enabled
	c.mu.RUnlock()
	if !enabled {
		return
	}
	fp := Fingerprint(key)

	if c.store != nil {
		if source, err := gemm.Generate(key); err == nil {
			_ = c.store.Put(fp, source) // best-effort
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fp]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.prog = prog
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{fingerprint: fp, prog: prog}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	elem := c.list.PushFront(entry)
	c.items[fp] = elem
}

// Remove evicts a single specialization, e.g. after a driver error suggests
// its compiled program is no longer trustworthy.
func (c *Cache) Remove(key gemm.SpecializationKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[Fingerprint(key)]; ok {
		c.removeElement(elem)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.items = make(map[uint64]*list.Element, c.maxSize)
}

// Len returns the number of cached programs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list.Len()
}

// Stats reports cache hit/miss performance.
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns the current cache statistics.
func (c *Cache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.RLock()
	size := c.list.Len()
	c.mu.RUnlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{Size: size, MaxSize: c.maxSize, Hits: hits, Misses: misses, HitRate: hitRate}
}

// SetEnabled toggles caching; disabling also clears held entries.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.list.Init()
		c.items = make(map[uint64]*list.Element, c.maxSize)
	}
}

func (c *Cache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.fingerprint)
}
