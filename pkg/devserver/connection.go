package devserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

var invalidJSONReply = []byte(`{"error":"Invalid JSON format"}`)

func newUpgrader(cfg *HubConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// ServeWS upgrades the request and attaches the socket to the hub as userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	upgrader := newUpgrader(h.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, h.config.MessageBufferSize),
		hub:    h,
		rooms:  make(map[string]bool),
		closed: make(chan struct{}),
	}

	if !h.registerConnection(c) {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit exceeded")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Connection) readPump() {
	h := c.hub
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(h.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(h.config.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(h.config.ConnectionTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.log.WithFields(logrus.Fields{"conn": c.ID, "user": c.UserID}).Warnf("websocket read error: %v", err)
			} else {
				h.log.Debugf("websocket connection closed: %s, user: %s", c.ID, c.UserID)
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(h.config.ConnectionTimeout))
		c.handleMessage(message)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.Debugf("websocket write error: %v, conn: %s", err, c.ID)
				return
			}
		case <-c.closed:
			_ = c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage applies one client control frame. Invalid JSON gets an
// error reply; frames without a known control type are ignored.
func (c *Connection) handleMessage(message []byte) {
	frame, err := protocol.ParseControl(message)
	if errors.Is(err, protocol.ErrInvalidJSON) {
		c.reply(invalidJSONReply)
		return
	}
	if err != nil {
		c.hub.log.Debugf("ignoring frame without type from %s", c.UserID)
		return
	}

	switch frame.Type {
	case protocol.TypeJoinRoom:
		c.hub.JoinRoom(c, frame.RoomID)
	case protocol.TypeLeaveRoom:
		c.hub.LeaveRoom(c, frame.RoomID)
	case protocol.TypeChatMessage:
		data, err := NewMessage(frame.RoomID, frame.SenderName, frame.Message)
		if err != nil {
			c.hub.log.Errorf("encode new_message: %v", err)
			return
		}
		c.hub.BroadcastToRoom(frame.RoomID, data)
	default:
		c.hub.log.Debugf("unknown frame type %q from %s", frame.Type, c.UserID)
	}
}

// reply is only called from readPump, before unregister closes Send.
func (c *Connection) reply(data []byte) {
	select {
	case c.Send <- data:
	default:
	}
}
