// Package devserver is a small in-process backend speaking the classroom
// socket protocol. It backs the integration tests and cmd/server.
package devserver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// HubConfig is the socket side configuration
type HubConfig struct {
	// MaxConnections caps concurrent sockets
	MaxConnections int64
	// HeartbeatInterval is the ping period
	HeartbeatInterval time.Duration
	// ConnectionTimeout is the read deadline renewed by pongs and frames
	ConnectionTimeout time.Duration
	// MessageBufferSize is the per-connection send queue
	MessageBufferSize int
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
}

// DefaultHubConfig returns default configuration
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		MaxConnections:    10000,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 60 * time.Second,
		MessageBufferSize: 256,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		MaxMessageSize:    1 << 20,
	}
}

// Connection is one accepted socket
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	hub    *Hub

	mu    sync.Mutex
	rooms map[string]bool

	closed    chan struct{}
	closeOnce sync.Once
}

// stop asks the write pump to send a going-away close and exit.
func (c *Connection) stop() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Hub manages all socket connections
type Hub struct {
	connections     map[string]*Connection
	userConnections map[string]map[string]bool
	roomConnections map[string]map[string]bool

	unregister chan *Connection

	connectionCount atomic.Int64
	config          *HubConfig
	log             *logrus.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub and starts its loop
func NewHub(config *HubConfig, log *logrus.Logger) *Hub {
	if config == nil {
		config = DefaultHubConfig()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		connections:     make(map[string]*Connection),
		userConnections: make(map[string]map[string]bool),
		roomConnections: make(map[string]map[string]bool),
		unregister:      make(chan *Connection, 64),
		config:          config,
		log:             log,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		}
	}
}

// registerConnection runs on the upgrading goroutine so the socket is
// addressable before its pumps start.
func (h *Hub) registerConnection(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx.Err() != nil {
		return false
	}
	if h.connectionCount.Load() >= h.config.MaxConnections {
		h.log.Warnf("connection limit exceeded: %d", h.config.MaxConnections)
		return false
	}

	h.connections[conn.ID] = conn
	h.connectionCount.Add(1)
	if h.userConnections[conn.UserID] == nil {
		h.userConnections[conn.UserID] = make(map[string]bool)
	}
	h.userConnections[conn.UserID][conn.ID] = true

	h.log.WithFields(logrus.Fields{
		"conn":  conn.ID,
		"user":  conn.UserID,
		"total": h.connectionCount.Load(),
	}).Info("websocket connection registered")
	return true
}

func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	h.connectionCount.Add(-1)

	if ids := h.userConnections[conn.UserID]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}
	conn.mu.Lock()
	for room := range conn.rooms {
		h.leaveLocked(conn.ID, room)
	}
	conn.mu.Unlock()

	close(conn.Send)
	h.log.WithFields(logrus.Fields{
		"conn":  conn.ID,
		"total": h.connectionCount.Load(),
	}).Info("websocket connection unregistered")
}

// JoinRoom adds conn to room.
func (h *Hub) JoinRoom(conn *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.roomConnections[room] == nil {
		h.roomConnections[room] = make(map[string]bool)
	}
	h.roomConnections[room][conn.ID] = true
	conn.mu.Lock()
	conn.rooms[room] = true
	conn.mu.Unlock()
	h.log.Debugf("user %s joined room %s", conn.UserID, room)
}

// LeaveRoom removes conn from room.
func (h *Hub) LeaveRoom(conn *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(conn.ID, room)
	conn.mu.Lock()
	delete(conn.rooms, room)
	conn.mu.Unlock()
	h.log.Debugf("user %s left room %s", conn.UserID, room)
}

func (h *Hub) leaveLocked(connID, room string) {
	if ids := h.roomConnections[room]; ids != nil {
		delete(ids, connID)
		if len(ids) == 0 {
			delete(h.roomConnections, room)
		}
	}
}

// SendToUser delivers data to every socket of userID and reports how many
// sockets accepted it.
func (h *Hub) SendToUser(userID string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sendLocked(h.userConnections[userID], data)
}

// BroadcastToRoom delivers data to every socket that joined room.
func (h *Hub) BroadcastToRoom(room string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sendLocked(h.roomConnections[room], data)
}

// BroadcastAll delivers data to every socket.
func (h *Hub) BroadcastAll(data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, conn := range h.connections {
		if h.trySend(conn, data) {
			sent++
		}
	}
	return sent
}

func (h *Hub) sendLocked(ids map[string]bool, data []byte) int {
	sent := 0
	for id := range ids {
		if conn, ok := h.connections[id]; ok && h.trySend(conn, data) {
			sent++
		}
	}
	return sent
}

// trySend drops the frame when the connection's queue is full.
func (h *Hub) trySend(conn *Connection, data []byte) bool {
	select {
	case conn.Send <- data:
		return true
	default:
		h.log.Warnf("connection %s send buffer full, frame dropped", conn.ID)
		return false
	}
}

// DisconnectUser closes every socket of userID with the given close code.
func (h *Hub) DisconnectUser(userID string, code int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for id := range h.userConnections[userID] {
		if conn, ok := h.connections[id]; ok {
			msg := websocket.FormatCloseMessage(code, "")
			_ = conn.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Conn.Close()
			n++
		}
	}
	return n
}

// ConnectionCount gets current connection count
func (h *Hub) ConnectionCount() int64 {
	return h.connectionCount.Load()
}

// UserConnections gets connection count for a user
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// RoomConnections gets connection count for a room
func (h *Hub) RoomConnections(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roomConnections[room])
}

// Close stops the hub loop and closes every socket.
func (h *Hub) Close() {
	h.cancel()
	<-h.done

	h.mu.Lock()
	for _, conn := range h.connections {
		conn.stop()
	}
	h.mu.Unlock()
	h.log.Info("websocket hub closed")
}
