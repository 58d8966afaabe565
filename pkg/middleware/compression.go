package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// CompressionConfig represents compression middleware configuration
type CompressionConfig struct {
	// Compression level (1-9, default: gzip.DefaultCompression)
	Level int
	// Path prefixes that are never compressed
	ExcludePaths []string
}

// DefaultCompressionConfig excludes the socket upgrade route and the
// metrics endpoint, which negotiates its own encoding.
func DefaultCompressionConfig() *CompressionConfig {
	return &CompressionConfig{
		Level:        gzip.DefaultCompression,
		ExcludePaths: []string{"/ws/", "/metrics"},
	}
}

// CompressionMiddleware gzips responses for clients that accept it.
func CompressionMiddleware(config *CompressionConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultCompressionConfig()
	}
	return gzip.Gzip(config.Level, gzip.WithExcludedPaths(config.ExcludePaths))
}
