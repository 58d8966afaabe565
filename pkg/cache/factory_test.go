package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mustLocalConfig() LocalConfig {
	return LocalConfig{
		MaxSize:           128,
		DefaultExpiration: 200 * time.Millisecond,
		CleanupInterval:   50 * time.Millisecond,
	}
}

func mustRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "127.0.0.1:6379",
		PoolSize:    10,
		DialTimeout: 500 * time.Millisecond,
	}
}

func TestNewCache_Factory_Default(t *testing.T) {
	c, err := NewCache(Config{Local: mustLocalConfig()})
	assert.NoError(t, err)
	_, ok := c.(*lruCacheImpl)
	assert.True(t, ok, "expect *lruCacheImpl when type is empty")
	_ = c.Close()
}

func TestNewCache_Factory_GoCache(t *testing.T) {
	c, err := NewCache(Config{Type: KindGoCache, Local: mustLocalConfig()})
	assert.NoError(t, err)
	_, ok := c.(*goCacheWrapper)
	assert.True(t, ok, "expect *goCacheWrapper for KindGoCache")
	_ = c.Close()
}

func TestNewCache_Factory_Redis(t *testing.T) {
	c, err := NewCache(Config{Type: KindRedis, Redis: mustRedisConfig()})
	if err != nil {
		t.Skipf("skip: redis not available at %s: %v", mustRedisConfig().Addr, err)
	}
	_, ok := c.(*redisCache)
	assert.True(t, ok, "expect *redisCache for KindRedis")
	_ = c.Close()
}

func TestNewCache_Factory_Unknown(t *testing.T) {
	_, err := NewCache(Config{Type: "memcached"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
