package websocket

import (
	"errors"
	"time"
)

// State is the lifecycle position of a Client
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var allStates = []string{
	StateIdle.String(),
	StateConnecting.String(),
	StateOpen.String(),
	StateReconnecting.String(),
	StateClosed.String(),
}

const (
	// Default configuration values
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultSendBufferSize    = 64
	DefaultReadBufferSize    = 1024
	DefaultWriteBufferSize   = 1024
	DefaultMaxMessageSize    = 1 << 20

	// RoutePrefix is the socket path; the identity id is appended.
	RoutePrefix = "/ws/"
)

var (
	ErrEmptyIdentity = errors.New("websocket: identity id is empty")
	ErrDisconnected  = errors.New("websocket: disconnected while dialing")
)
