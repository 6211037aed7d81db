package analysis

import (
	"container/list"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"tasksync.app/tasksync/internal/domain"
)

// ResultCache is a content-addressed cache of analysis results. Entries
// expire on a fixed TTL and the entry count is bounded: once full, the
// oldest entry is evicted first. Safe for concurrent use across pipeline
// instances.
type ResultCache struct {
	mu      sync.Mutex
	cache   *gocache.Cache
	order   *list.List // cache keys, oldest at front
	index   map[string]*list.Element
	maxSize int
	ttl     time.Duration
}

// NewResultCache creates a cache with the given TTL and entry ceiling.
func NewResultCache(ttl time.Duration, maxSize int) *ResultCache {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &ResultCache{
		cache:   gocache.New(ttl, 2*ttl),
		order:   list.New(),
		index:   make(map[string]*list.Element),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached result for a fingerprint. Expired entries are
// never served; go-cache treats them as absent, which triggers silent
// recomputation by the caller.
func (c *ResultCache) Get(key string) (*domain.AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.cache.Get(key)
	if !ok {
		if el, exists := c.index[key]; exists {
			c.order.Remove(el)
			delete(c.index, key)
		}
		return nil, false
	}

	result, ok := v.(domain.AnalysisResult)
	if !ok {
		return nil, false
	}
	return &result, true
}

// Set stores a result, evicting the oldest entry when the ceiling is hit.
// Two pipeline instances racing on the same fingerprint both end up with
// the same key set; last write wins and both values are equivalent.
func (c *ResultCache) Set(key string, result domain.AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, exists := c.index[key]; exists {
		c.order.Remove(el)
		delete(c.index, key)
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		oldKey := oldest.Value.(string)
		c.order.Remove(oldest)
		delete(c.index, oldKey)
		c.cache.Delete(oldKey)
	}

	c.cache.Set(key, result, c.ttl)
	c.index[key] = c.order.PushBack(key)
}

// Len reports the tracked entry count.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
