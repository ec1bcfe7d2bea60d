// Package toolcache deduplicates tool executions within a short TTL window,
// keyed on the tool name and its arguments. It prevents re-running an
// expensive read-only tool when an agent retries or loops on an identical
// call; tools outside the fixed cacheableTools set are never cached.
package toolcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// cacheableTools is the fixed set of read-only deterministic tools whose
// results may be memoized. Everything else is never cached, regardless of
// what a caller passes to Put.
var cacheableTools = map[string]bool{
	"read_file":       true,
	"glob":            true,
	"grep":            true,
	"codebase_search": true,
	"list_directory":  true,
}

// IsCacheable reports whether toolName is in the fixed cacheable-tool
// allowlist.
func IsCacheable(toolName string) bool {
	return cacheableTools[toolName]
}

// Result is a cached tool execution outcome.
type Result struct {
	Output    string
	Success   bool
	CreatedAt time.Time
	sizeBytes int
}

type entry struct {
	key     string
	result  Result
	element *list.Element
}

// Cache is an LRU cache bounded by both entry count and total byte size,
// with per-entry TTL expiry checked lazily on Get.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*entry
	order        *list.List // front = most recently used
	ttl          time.Duration
	maxCount     int
	maxBytes     int
	curBytes     int
	hits         uint64
	misses       uint64
	evictions    uint64
	invalidation uint64
}

// New creates a cache with the given TTL, max entry count, and max total
// output bytes. Zero or negative values fall back to the defaults: 300s
// TTL, 1000 entries, 50 MiB.
func New(ttl time.Duration, maxCount, maxBytes int) *Cache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	if maxCount <= 0 {
		maxCount = 1000
	}
	if maxBytes <= 0 {
		maxBytes = 50 << 20 // 50 MiB
	}
	return &Cache{
		entries:  make(map[string]*entry, maxCount),
		order:    list.New(),
		ttl:      ttl,
		maxCount: maxCount,
		maxBytes: maxBytes,
	}
}

// Get returns a cached result for (toolName, args) if present and unexpired.
// Non-cacheable tool names always miss without affecting hit/miss counters,
// since they were never eligible to be cached in the first place.
func (c *Cache) Get(toolName string, args map[string]interface{}) (Result, bool) {
	if !IsCacheable(toolName) {
		return Result{}, false
	}
	key := makeKey(toolName, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return Result{}, false
	}
	if time.Since(e.result.CreatedAt) > c.ttl {
		c.removeLocked(e)
		c.misses++
		return Result{}, false
	}

	c.order.MoveToFront(e.element)
	c.hits++
	return e.result, true
}

// Put stores a tool result, evicting least-recently-used entries as needed
// to satisfy both the count and byte-size bounds. Calls for a tool name
// outside the cacheable allowlist, or whose output exceeds max_bytes/10,
// are silently dropped.
func (c *Cache) Put(toolName string, args map[string]interface{}, output string, success bool) {
	if !IsCacheable(toolName) {
		return
	}
	size := len(output)
	if size > c.maxBytes/10 {
		return
	}

	key := makeKey(toolName, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	for (len(c.entries) >= c.maxCount || c.curBytes+size > c.maxBytes) && c.order.Len() > 0 {
		back := c.order.Back()
		c.removeLocked(c.entries[back.Value.(string)])
		c.evictions++
	}

	e := &entry{
		key: key,
		result: Result{
			Output:    output,
			Success:   success,
			CreatedAt: time.Now(),
			sizeBytes: size,
		},
	}
	e.element = c.order.PushFront(key)
	c.entries[key] = e
	c.curBytes += size
}

// Clear empties the cache without counting it as an invalidation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

// Invalidate empties the cache. pattern is currently unused — invalidation
// is conservative and clears everything, matching InvalidatePath.
func (c *Cache) Invalidate(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.invalidation++
}

// InvalidatePath is called by file-modifying tools after a write. It
// conservatively empties the whole cache rather than attempting to reason
// about which cached reads the path touched.
func (c *Cache) InvalidatePath(path string) {
	c.Invalidate(path)
}

func (c *Cache) clearLocked() {
	c.entries = make(map[string]*entry, c.maxCount)
	c.order.Init()
	c.curBytes = 0
}

// Size returns the number of entries currently cached.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports cumulative hit/miss/eviction/invalidation counters, used by
// the debug HTTP surface.
type Stats struct {
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	Invalidation uint64
	Entries      int
	Bytes        int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Invalidation: c.invalidation,
		Entries:      len(c.entries),
		Bytes:        c.curBytes,
	}
}

// removeLocked must be called with c.mu held.
func (c *Cache) removeLocked(e *entry) {
	if e == nil {
		return
	}
	delete(c.entries, e.key)
	c.order.Remove(e.element)
	c.curBytes -= e.result.sizeBytes
}

// makeKey canonicalizes args via encoding/json, which sorts map keys
// recursively, before hashing.
func makeKey(toolName string, args map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	if args != nil {
		b, _ := json.Marshal(args)
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))[:24]
}
