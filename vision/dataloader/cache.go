package dataloader

import (
	"container/list"
	"fmt"
	"sync"

	"trellis/tensor"
)

// Cache is an LRU cache of preprocessed sample tensors keyed by image
// path. It is safe for concurrent use and may be shared between loaders
// whose pipelines produce identical tensors for the same path.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*tensor.Tensor
	lru     *list.List
	lruMap  map[string]*list.Element
	maxSize int

	hits   int64
	misses int64
}

func NewCache(maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		entries: make(map[string]*tensor.Tensor),
		lru:     list.New(),
		lruMap:  make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

func (c *Cache) Get(key string) (*tensor.Tensor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.entries[key]; ok {
		c.lru.MoveToFront(c.lruMap[key])
		c.hits++
		return t, true
	}
	c.misses++
	return nil, false
}

func (c *Cache) Put(key string, t *tensor.Tensor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.lru.MoveToFront(c.lruMap[key])
		return
	}

	c.lruMap[key] = c.lru.PushFront(key)
	c.entries[key] = t

	for len(c.entries) > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(string)
		c.lru.Remove(oldest)
		delete(c.lruMap, evicted)
		delete(c.entries, evicted)
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*tensor.Tensor)
	c.lru = list.New()
	c.lruMap = make(map[string]*list.Element)
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total) * 100
	}
	return stats
}

// CacheStats summarizes cache usage.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
