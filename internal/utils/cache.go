package utils

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// cacheItem 包装缓存数据和过期时间
type cacheItem[V any] struct {
	data      V
	expiresAt time.Time
}

// Cache 带 TTL 的本地 LRU 缓存
type Cache[K comparable, V any] struct {
	lruCache *lru.Cache[K, cacheItem[V]]
	ttl      time.Duration
	clock    clockwork.Clock
}

func NewCache[K comparable, V any](size int, ttl time.Duration, clock clockwork.Clock) (*Cache[K, V], error) {
	l, err := lru.New[K, cacheItem[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache[K, V]{lruCache: l, ttl: ttl, clock: clock}, nil
}

func (c *Cache[K, V]) Set(key K, data V) {
	c.lruCache.Add(key, cacheItem[V]{
		data:      data,
		expiresAt: c.clock.Now().Add(c.ttl),
	})
}

// Get 获取缓存，若不存在或已过期则返回 false
func (c *Cache[K, V]) Get(key K) (V, bool) {
	val, ok := c.lruCache.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock.Now().After(val.expiresAt) {
		c.lruCache.Remove(key)
		var zero V
		return zero, false
	}
	return val.data, true
}

func (c *Cache[K, V]) Delete(key K) {
	c.lruCache.Remove(key)
}

func (c *Cache[K, V]) Len() int {
	return c.lruCache.Len()
}
