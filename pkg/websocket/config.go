package websocket

import (
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/circuitbreaker"
)

// Config is the client connection configuration
type Config struct {
	// Host is host[:port] of the backend
	Host string
	// Secure selects wss instead of ws
	Secure bool
	// Retry is the reconnect backoff schedule
	Retry *circuitbreaker.RetryConfig
	// HeartbeatInterval is the ping period
	HeartbeatInterval time.Duration
	// PongTimeout is the read deadline, renewed by any frame or pong
	PongTimeout time.Duration
	// WriteTimeout bounds a single write
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the opening handshake
	HandshakeTimeout time.Duration
	// SendBufferSize is the per-socket write queue
	SendBufferSize int
	// OutboundQueueSize keeps frames sent while not OPEN; 0 drops them
	OutboundQueueSize int
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:              "localhost:8000",
		Retry:             circuitbreaker.DefaultRetryConfig(),
		HeartbeatInterval: DefaultHeartbeatInterval,
		PongTimeout:       DefaultPongTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		SendBufferSize:    DefaultSendBufferSize,
		ReadBufferSize:    DefaultReadBufferSize,
		WriteBufferSize:   DefaultWriteBufferSize,
		MaxMessageSize:    DefaultMaxMessageSize,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Retry == nil {
		out.Retry = d.Retry
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.PongTimeout <= 0 {
		out.PongTimeout = d.PongTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = d.HandshakeTimeout
	}
	if out.SendBufferSize <= 0 {
		out.SendBufferSize = d.SendBufferSize
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.OutboundQueueSize < 0 {
		out.OutboundQueueSize = 0
	}
	return &out
}
