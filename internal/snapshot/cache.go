package snapshot

import (
	"container/list"
	"sync"

	"github.com/aevon-lab/insight/internal/core/model"
)

// LRUCache is a thread-safe LRU cache of snapshots keyed by snapshot ID.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

type cacheEntry struct {
	id       string
	snapshot *model.DiscoveredEventDataSource
}

// NewLRUCache creates a new LRU cache with the given capacity.
func NewLRUCache(capacity int) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a snapshot. Returns nil if not found.
func (c *LRUCache) Get(id string) *model.DiscoveredEventDataSource {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.cache[id]
	if !exists {
		return nil
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).snapshot
}

// Put adds a snapshot, evicting the least recently used if full.
func (c *LRUCache) Put(s *model.DiscoveredEventDataSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[s.ID]; exists {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).snapshot = s
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.cache, oldest.Value.(*cacheEntry).id)
			c.order.Remove(oldest)
		}
	}

	c.cache[s.ID] = c.order.PushFront(&cacheEntry{id: s.ID, snapshot: s})
}
