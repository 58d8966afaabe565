package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCacheConfig LRU缓存配置
type LRUCacheConfig struct {
	// 最大缓存项数
	MaxSize int `json:"max_size" env:"LRU_CACHE_MAX_SIZE" default:"1000"`

	// 默认过期时间
	DefaultExpiration time.Duration `json:"default_expiration" env:"LRU_CACHE_DEFAULT_EXPIRATION" default:"5m"`

	// 清理间隔
	CleanupInterval time.Duration `json:"cleanup_interval" env:"LRU_CACHE_CLEANUP_INTERVAL" default:"10m"`
}

type lruCacheImpl struct {
	cache     *lru.Cache[string, *lruCacheItem]
	config    LRUCacheConfig
	mu        sync.Mutex
	stopChan  chan struct{}
	closeOnce sync.Once
}

type lruCacheItem struct {
	value      interface{}
	expiration time.Time
}

func (i *lruCacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewLRUCache 创建基于hashicorp/golang-lru的缓存
func NewLRUCache(config LRUCacheConfig) Cache {
	if config.MaxSize <= 0 {
		config.MaxSize = 1000
	}
	c, err := lru.New[string, *lruCacheItem](config.MaxSize)
	if err != nil {
		c, _ = lru.New[string, *lruCacheItem](1000)
	}

	lc := &lruCacheImpl{
		cache:    c,
		config:   config,
		stopChan: make(chan struct{}),
	}

	go lc.startCleanup()

	return lc
}

func (lc *lruCacheImpl) Get(ctx context.Context, key string) (interface{}, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	item, ok := lc.cache.Get(key)
	if !ok {
		return nil, false
	}
	if item.expired(time.Now()) {
		lc.cache.Remove(key)
		return nil, false
	}
	return item.value, true
}

func (lc *lruCacheImpl) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	} else if lc.config.DefaultExpiration > 0 {
		exp = time.Now().Add(lc.config.DefaultExpiration)
	}

	lc.cache.Add(key, &lruCacheItem{value: value, expiration: exp})
	return nil
}

func (lc *lruCacheImpl) Delete(ctx context.Context, key string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.cache.Remove(key)
	return nil
}

func (lc *lruCacheImpl) Exists(ctx context.Context, key string) bool {
	_, ok := lc.Get(ctx, key)
	return ok
}

func (lc *lruCacheImpl) Clear(ctx context.Context) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.cache.Purge()
	return nil
}

// Close 停止清理协程
func (lc *lruCacheImpl) Close() error {
	lc.closeOnce.Do(func() { close(lc.stopChan) })
	return nil
}

func (lc *lruCacheImpl) startCleanup() {
	if lc.config.CleanupInterval <= 0 {
		return
	}

	ticker := time.NewTicker(lc.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lc.cleanup()
		case <-lc.stopChan:
			return
		}
	}
}

// cleanup 清理过期项
func (lc *lruCacheImpl) cleanup() {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	now := time.Now()
	for _, key := range lc.cache.Keys() {
		if item, ok := lc.cache.Peek(key); ok && item.expired(now) {
			lc.cache.Remove(key)
		}
	}
}
