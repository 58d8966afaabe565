package utils

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/cache"
	"github.com/spf13/cast"
)

const envCacheTTL = 10 * time.Second

// EnvReader resolves configuration keys from the process environment, then
// from a .env file, caching what it finds for a short while.
type EnvReader struct {
	envCache cache.Cache
	envFile  string
}

var defaultEnvReader *EnvReader

// InitEnvReader 初始化环境变量读取器
func InitEnvReader(cacheInstance cache.Cache) {
	if cacheInstance == nil {
		cacheInstance = cache.NewLRUCache(cache.LRUCacheConfig{
			MaxSize:           1024,
			DefaultExpiration: envCacheTTL,
			CleanupInterval:   1 * time.Minute,
		})
	}
	defaultEnvReader = &EnvReader{
		envCache: cacheInstance,
		envFile:  ".env",
	}
}

func getEnvReader() *EnvReader {
	if defaultEnvReader == nil {
		InitEnvReader(nil)
	}
	return defaultEnvReader
}

func GetEnv(key string) string {
	v, _ := LookupEnv(key)
	return v
}

func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

func GetFloatEnv(key string) float64 {
	return cast.ToFloat64(GetEnv(key))
}

func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

// GetDurationEnv accepts Go duration strings ("30s") or bare milliseconds ("1500").
func GetDurationEnv(key string) time.Duration {
	v := GetEnv(key)
	if v == "" {
		return 0
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return cast.ToDuration(v)
}

func LookupEnv(key string) (value string, found bool) {
	key = strings.ToUpper(key)
	r := getEnvReader()
	if v, ok := os.LookupEnv(key); ok {
		_ = r.envCache.Set(context.Background(), key, v, envCacheTTL)
		return v, true
	}
	if val, ok := r.envCache.Get(context.Background(), key); ok {
		if v, ok := val.(string); ok {
			return v, true
		}
	}
	data, err := os.ReadFile(r.envFile)
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		k, v, ok := parseEnvLine(line)
		if !ok {
			continue
		}
		k = strings.ToUpper(k)
		_ = r.envCache.Set(context.Background(), k, v, envCacheTTL)
		if k == key {
			return v, true
		}
	}
	return "", false
}

// LoadEnv Load .env file based on environment
func LoadEnv(env string) error {
	envFile := ".env"
	if env != "" {
		envFile = ".env." + env
	}

	data, err := os.ReadFile(envFile)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := parseEnvLine(line)
		if !ok {
			continue
		}
		// real environment wins over the file
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, value)
	}
	return nil
}

func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' || !strings.Contains(line, "=") {
		return "", "", false
	}
	parts := strings.SplitN(line, "=", 2)
	key = strings.TrimSpace(parts[0])
	value = strings.Trim(strings.TrimSpace(parts[1]), `"'`)
	return key, value, key != ""
}
