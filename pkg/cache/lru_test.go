package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLRU(size int) Cache {
	return NewLRUCache(LRUCacheConfig{
		MaxSize:           size,
		DefaultExpiration: 5 * time.Minute,
		CleanupInterval:   10 * time.Minute,
	})
}

func TestLRUCache_GetSet(t *testing.T) {
	cache := newTestLRU(100)
	defer cache.Close()
	ctx := context.Background()

	err := cache.Set(ctx, "key1", "value1", 0)
	assert.NoError(t, err)

	val, exists := cache.Get(ctx, "key1")
	assert.True(t, exists)
	assert.Equal(t, "value1", val)

	val, exists = cache.Get(ctx, "key_not_exists")
	assert.False(t, exists)
	assert.Nil(t, val)
}

func TestLRUCache_Expiration(t *testing.T) {
	cache := newTestLRU(100)
	defer cache.Close()
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "key1", "value1", 50*time.Millisecond))
	assert.True(t, cache.Exists(ctx, "key1"))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, cache.Exists(ctx, "key1"))
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := newTestLRU(2)
	defer cache.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.NoError(t, cache.Set(ctx, fmt.Sprintf("k%d", i), i, 0))
	}

	assert.False(t, cache.Exists(ctx, "k0"))
	assert.True(t, cache.Exists(ctx, "k1"))
	assert.True(t, cache.Exists(ctx, "k2"))
}

func TestLRUCache_DeleteClear(t *testing.T) {
	cache := newTestLRU(10)
	defer cache.Close()
	ctx := context.Background()

	_ = cache.Set(ctx, "a", 1, 0)
	_ = cache.Set(ctx, "b", 2, 0)
	assert.NoError(t, cache.Delete(ctx, "a"))
	assert.False(t, cache.Exists(ctx, "a"))

	assert.NoError(t, cache.Clear(ctx))
	assert.False(t, cache.Exists(ctx, "b"))
}

func TestLRUCache_CloseTwice(t *testing.T) {
	cache := newTestLRU(10)
	assert.NoError(t, cache.Close())
	assert.NoError(t, cache.Close())
}
