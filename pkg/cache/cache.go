package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind selects the cache backend
type Kind string

const (
	KindLRU     Kind = "lru"
	KindGoCache Kind = "gocache"
	KindRedis   Kind = "redis"
)

// ErrUnknownKind is returned by NewCache for an unsupported backend
var ErrUnknownKind = errors.New("unknown cache kind")

// Cache is the key/value contract shared by all backends
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
	Clear(ctx context.Context) error
	Close() error
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	MaxSize           int           `json:"max_size"`
	DefaultExpiration time.Duration `json:"default_expiration"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
}

// RedisConfig Redis缓存配置
type RedisConfig struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// Config selects and configures a backend
type Config struct {
	Type  Kind        `json:"type"`
	Local LocalConfig `json:"local"`
	Redis RedisConfig `json:"redis"`
}

// NewCache builds the backend named by cfg.Type. An empty type means lru.
func NewCache(cfg Config) (Cache, error) {
	switch cfg.Type {
	case "", KindLRU:
		return NewLRUCache(LRUCacheConfig{
			MaxSize:           cfg.Local.MaxSize,
			DefaultExpiration: cfg.Local.DefaultExpiration,
			CleanupInterval:   cfg.Local.CleanupInterval,
		}), nil
	case KindGoCache:
		return NewGoCache(cfg.Local), nil
	case KindRedis:
		return NewRedisCache(cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Type)
	}
}
