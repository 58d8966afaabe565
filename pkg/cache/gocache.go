package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type goCacheWrapper struct {
	cache *gocache.Cache
}

// NewGoCache wraps patrickmn/go-cache. MaxSize is ignored by this backend.
func NewGoCache(config LocalConfig) Cache {
	expiration := config.DefaultExpiration
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}
	return &goCacheWrapper{
		cache: gocache.New(expiration, config.CleanupInterval),
	}
}

func (g *goCacheWrapper) Get(ctx context.Context, key string) (interface{}, bool) {
	return g.cache.Get(key)
}

func (g *goCacheWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = gocache.DefaultExpiration
	}
	g.cache.Set(key, value, expiration)
	return nil
}

func (g *goCacheWrapper) Delete(ctx context.Context, key string) error {
	g.cache.Delete(key)
	return nil
}

func (g *goCacheWrapper) Exists(ctx context.Context, key string) bool {
	_, ok := g.cache.Get(key)
	return ok
}

func (g *goCacheWrapper) Clear(ctx context.Context) error {
	g.cache.Flush()
	return nil
}

func (g *goCacheWrapper) Close() error {
	return nil
}
