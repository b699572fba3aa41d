// Package repocache bounds the number of open archive repository handles,
// per spec §4.C. It generalizes the teacher pack's generic TTL cache
// (jra3-linear-fuse/internal/cache.Cache[T]) from time-based eviction to
// recency-based LRU eviction over *archive.Handle values, since repository
// handles don't expire — they're evicted purely by cache pressure.
package repocache

import (
	"container/list"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/emergent-company/agentmail/internal/apperr"
	"github.com/emergent-company/agentmail/internal/archive"
)

// OpenFunc opens a repository handle at path; injected so tests can use an
// in-memory stand-in instead of touching the filesystem.
type OpenFunc func(path string) (*archive.Repo, error)

type entry struct {
	path   string
	handle *archive.Handle
}

// Cache is a bounded LRU of archive repository handles, keyed by
// canonicalized filesystem path.
type Cache struct {
	mu       sync.Mutex
	capacity int
	open     OpenFunc
	order    *list.List // front = most recently used
	index    map[string]*list.Element

	misses singleflight.Group // coalesces concurrent opens of the same key
}

// New creates a cache with the given capacity (default 8 per spec §4.C) and
// the function used to open a handle on a cache miss.
func New(capacity int, open OpenFunc) *Cache {
	if capacity <= 0 {
		capacity = 8
	}
	return &Cache{
		capacity: capacity,
		open:     open,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Get returns a shared, exclusively-lockable handle for path, opening and
// inserting it if absent. A cache hit touches LRU order.
func (c *Cache) Get(path string) (*archive.Handle, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, &apperr.Internal{Message: "resolving repo cache path", Err: err}
	}

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		h := el.Value.(*entry).handle
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	// A burst of callers missing on the same key must open exactly one
	// handle (spec §8 invariant #7): coalesce them through singleflight
	// rather than letting each past the miss-check race into c.open.
	v, err, _ := c.misses.Do(key, func() (any, error) {
		// Another caller may have inserted while we waited for the lock above.
		c.mu.Lock()
		if el, ok := c.index[key]; ok {
			c.order.MoveToFront(el)
			h := el.Value.(*entry).handle
			c.mu.Unlock()
			return h, nil
		}
		c.mu.Unlock()

		repo, err := c.open(key)
		if err != nil {
			return nil, err
		}
		handle := archive.NewHandle(repo)

		c.mu.Lock()
		defer c.mu.Unlock()
		el := c.order.PushFront(&entry{path: key, handle: handle})
		c.index[key] = el

		for c.order.Len() > c.capacity {
			oldest := c.order.Back()
			if oldest == nil {
				break
			}
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*entry).path)
		}

		return handle, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*archive.Handle), nil
}

// Peek is a non-blocking membership test: it returns (handle, true) only if
// path is already cached and the cache mutex is immediately acquirable. It
// never opens a handle and never blocks waiting on contention.
func (c *Cache) Peek(path string) (*archive.Handle, bool) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}

	if !c.mu.TryLock() {
		return nil, false
	}
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).handle, true
}

// Clear drops all handles, used at shutdown or in tests.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[string]*list.Element)
}

// Len reports the current number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
