package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/cache"
	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/utils"
)

// Config represents the client and devserver configuration
type Config struct {
	Mode       string `env:"MODE"`
	WSHost     string `env:"WS_HOST"`
	WSSecure   bool   `env:"WS_SECURE"`
	APIBaseURL string `env:"API_BASE_URL"`
	APIToken   string `env:"API_TOKEN"`
	WSToken    string `env:"WS_TOKEN"`

	MaxReconnectAttempts int           `env:"WS_MAX_RECONNECT_ATTEMPTS"`
	ReconnectBaseDelay   time.Duration `env:"WS_RECONNECT_BASE_DELAY"`
	HeartbeatInterval    time.Duration `env:"WS_HEARTBEAT_INTERVAL"`
	PongTimeout          time.Duration `env:"WS_PONG_TIMEOUT"`
	OutboundQueueSize    int           `env:"WS_OUTBOUND_QUEUE_SIZE"`

	MessageLogSize       int           `env:"MESSAGE_LOG_SIZE"`
	NotificationDuration time.Duration `env:"NOTIFICATION_DURATION"`

	ProjectorInterval     time.Duration `env:"PROJECTOR_INTERVAL"`
	ProjectorSimulate     bool          `env:"PROJECTOR_SIMULATE"`
	ProjectorRecentWindow int           `env:"PROJECTOR_RECENT_WINDOW"`
	RefreshRateLimit      time.Duration `env:"PROJECTOR_REFRESH_MIN_INTERVAL"`

	ServerAddr    string        `env:"SERVER_ADDR"`
	MonitorPrefix string        `env:"MONITOR_PREFIX"`
	TokenSecret   string        `env:"SOCKET_TOKEN_SECRET"`
	TokenTTL      time.Duration `env:"SOCKET_TOKEN_TTL"`

	Log   logger.LogConfig
	Cache cache.Config
}

var (
	ErrInvalidHost     = errors.New("config: ws host is required")
	ErrInvalidAPIURL   = errors.New("config: api base url is invalid")
	ErrInvalidAttempts = errors.New("config: max reconnect attempts must be >= 0")
	ErrInvalidDuration = errors.New("config: durations must be positive")
	ErrInvalidLogSize  = errors.New("config: message log size must be positive")
)

// GlobalConfig is the global configuration instance
var GlobalConfig *Config

// Load loads configuration from environment variables
func Load() error {
	env := os.Getenv("APP_ENV")
	if err := utils.LoadEnv(env); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	cfg := Default()
	cfg.Mode = getStringOrDefault("MODE", cfg.Mode)
	cfg.WSHost = getStringOrDefault("WS_HOST", cfg.WSHost)
	cfg.WSSecure = getBoolOrDefault("WS_SECURE", cfg.WSSecure)
	cfg.APIBaseURL = getStringOrDefault("API_BASE_URL", cfg.APIBaseURL)
	cfg.APIToken = getStringOrDefault("API_TOKEN", cfg.APIToken)
	cfg.WSToken = getStringOrDefault("WS_TOKEN", cfg.WSToken)
	cfg.MaxReconnectAttempts = getIntOrDefault("WS_MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)
	cfg.ReconnectBaseDelay = getDurationOrDefault("WS_RECONNECT_BASE_DELAY", cfg.ReconnectBaseDelay)
	cfg.HeartbeatInterval = getDurationOrDefault("WS_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.PongTimeout = getDurationOrDefault("WS_PONG_TIMEOUT", cfg.PongTimeout)
	cfg.OutboundQueueSize = getIntOrDefault("WS_OUTBOUND_QUEUE_SIZE", cfg.OutboundQueueSize)
	cfg.MessageLogSize = getIntOrDefault("MESSAGE_LOG_SIZE", cfg.MessageLogSize)
	cfg.NotificationDuration = getDurationOrDefault("NOTIFICATION_DURATION", cfg.NotificationDuration)
	cfg.ProjectorInterval = getDurationOrDefault("PROJECTOR_INTERVAL", cfg.ProjectorInterval)
	cfg.ProjectorSimulate = getBoolOrDefault("PROJECTOR_SIMULATE", cfg.ProjectorSimulate)
	cfg.ProjectorRecentWindow = getIntOrDefault("PROJECTOR_RECENT_WINDOW", cfg.ProjectorRecentWindow)
	cfg.RefreshRateLimit = getDurationOrDefault("PROJECTOR_REFRESH_MIN_INTERVAL", cfg.RefreshRateLimit)
	cfg.ServerAddr = getStringOrDefault("SERVER_ADDR", cfg.ServerAddr)
	cfg.MonitorPrefix = getStringOrDefault("MONITOR_PREFIX", cfg.MonitorPrefix)
	cfg.TokenSecret = getStringOrDefault("SOCKET_TOKEN_SECRET", cfg.TokenSecret)
	cfg.TokenTTL = getDurationOrDefault("SOCKET_TOKEN_TTL", cfg.TokenTTL)
	cfg.Log = logger.LogConfig{
		Level:      getStringOrDefault("LOG_LEVEL", cfg.Log.Level),
		Filename:   getStringOrDefault("LOG_FILENAME", cfg.Log.Filename),
		MaxSize:    getIntOrDefault("LOG_MAX_SIZE", cfg.Log.MaxSize),
		MaxAge:     getIntOrDefault("LOG_MAX_AGE", cfg.Log.MaxAge),
		MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", cfg.Log.MaxBackups),
		Daily:      getBoolOrDefault("LOG_DAILY", cfg.Log.Daily),
	}
	cfg.Cache = loadCacheConfig()

	if err := cfg.Validate(); err != nil {
		return err
	}
	GlobalConfig = cfg
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Mode:                  "development",
		WSHost:                "localhost:8000",
		APIBaseURL:            "http://localhost:8000",
		MaxReconnectAttempts:  5,
		ReconnectBaseDelay:    time.Second,
		HeartbeatInterval:     30 * time.Second,
		PongTimeout:           60 * time.Second,
		MessageLogSize:        1000,
		NotificationDuration:  5 * time.Second,
		ProjectorInterval:     30 * time.Second,
		ProjectorSimulate:     true,
		ProjectorRecentWindow: 5,
		RefreshRateLimit:      time.Second,
		ServerAddr:            ":8000",
		MonitorPrefix:         "/metrics",
		Log: logger.LogConfig{
			Level:      "info",
			Filename:   "./logs/app.log",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 5,
			Daily:      true,
		},
		Cache: cache.Config{Type: cache.KindLRU},
	}
}

// Validate checks the values the realtime core depends on.
func (c *Config) Validate() error {
	if c.WSHost == "" {
		return ErrInvalidHost
	}
	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAPIURL, c.APIBaseURL)
	}
	if c.MaxReconnectAttempts < 0 {
		return ErrInvalidAttempts
	}
	if c.ReconnectBaseDelay <= 0 || c.HeartbeatInterval <= 0 || c.PongTimeout <= 0 ||
		c.NotificationDuration <= 0 || c.ProjectorInterval <= 0 {
		return ErrInvalidDuration
	}
	if c.MessageLogSize <= 0 {
		return ErrInvalidLogSize
	}
	return nil
}

// WSScheme is ws or wss depending on WSSecure.
func (c *Config) WSScheme() string {
	if c.WSSecure {
		return "wss"
	}
	return "ws"
}

// getStringOrDefault gets environment variable value, returns default if empty
func getStringOrDefault(key, defaultValue string) string {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getBoolOrDefault gets boolean environment variable value, returns default if empty
func getBoolOrDefault(key string, defaultValue bool) bool {
	value := utils.GetEnv(key)
	if value == "" {
		return defaultValue
	}
	return utils.GetBoolEnv(key)
}

// getIntOrDefault gets integer environment variable value, returns default if unset
func getIntOrDefault(key string, defaultValue int) int {
	if utils.GetEnv(key) == "" {
		return defaultValue
	}
	return int(utils.GetIntEnv(key))
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	d := utils.GetDurationEnv(key)
	if d <= 0 {
		return defaultValue
	}
	return d
}

// loadCacheConfig loads cache configuration with all default values
func loadCacheConfig() cache.Config {
	redisPoolSize := getIntOrDefault("REDIS_POOL_SIZE", 10)
	redisMinIdleConns := getIntOrDefault("REDIS_MIN_IDLE_CONNS", 5)

	return cache.Config{
		Type: cache.Kind(getStringOrDefault("CACHE_TYPE", string(cache.KindLRU))),
		Redis: cache.RedisConfig{
			Addr:         getStringOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     utils.GetEnv("REDIS_PASSWORD"),
			DB:           int(utils.GetIntEnv("REDIS_DB")),
			PoolSize:     redisPoolSize,
			MinIdleConns: redisMinIdleConns,
			DialTimeout:  getDurationOrDefault("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDurationOrDefault("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDurationOrDefault("REDIS_WRITE_TIMEOUT", 3*time.Second),
			IdleTimeout:  getDurationOrDefault("REDIS_IDLE_TIMEOUT", 5*time.Minute),
		},
		Local: cache.LocalConfig{
			MaxSize:           getIntOrDefault("LOCAL_CACHE_MAX_SIZE", 1000),
			DefaultExpiration: getDurationOrDefault("LOCAL_CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
			CleanupInterval:   getDurationOrDefault("LOCAL_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
	}
}
