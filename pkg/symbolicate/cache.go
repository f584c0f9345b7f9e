package symbolicate

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of outcomes a Cache keeps when no size is given
const DefaultCacheSize = 65536

type cacheKey struct {
	uuid   string
	offset uint64
}

// Cache keeps definitive outcomes keyed by (uuid, offset) for one symbolication run.
// It is safe for concurrent use.
type Cache struct {
	cache *lru.Cache[cacheKey, Outcome]
}

// NewCache returns a Cache holding at most size outcomes
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	lcache, err := lru.New[cacheKey, Outcome](size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: lcache}, nil
}

// Get returns the cached outcome for (uuid, offset)
func (c *Cache) Get(uuid string, offset uint64) (Outcome, bool) {
	if c == nil {
		return Outcome{}, false
	}
	return c.cache.Get(cacheKey{uuid, offset})
}

// Add stores o unless it may change on retry (tool failures, timeouts)
func (c *Cache) Add(uuid string, offset uint64, o Outcome) bool {
	if c == nil || !o.definitive() {
		return false
	}
	c.cache.Add(cacheKey{uuid, offset}, o)
	return true
}

// Len returns the number of cached outcomes
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
