package websocket

import (
	"sync"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// socket is one dialed connection and its pumps.
type socket struct {
	conn        *websocket.Conn
	gen         uint64
	send        chan []byte
	done        chan struct{}
	closing     chan struct{} // asks the write pump to flush and stop
	flushed     chan struct{} // closed by the write pump after flushing
	closeOnce   sync.Once
	closingOnce sync.Once
}

func newSocket(conn *websocket.Conn, gen uint64, bufSize int) *socket {
	return &socket{
		conn:    conn,
		gen:     gen,
		send:    make(chan []byte, bufSize),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		flushed: make(chan struct{}),
	}
}

func (s *socket) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// closeNormal lets the write pump flush queued frames, then sends a 1000
// close frame and tears the socket down. Waiting is bounded by timeout.
func (s *socket) closeNormal(timeout time.Duration) {
	s.closingOnce.Do(func() { close(s.closing) })
	select {
	case <-s.flushed:
	case <-s.done:
	case <-time.After(timeout):
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout)); err != nil {
		logger.Debug("websocket close frame not sent", zap.Error(err))
	}
	s.shutdown()
}

// readPump reads frames until the socket fails, then reports the closure.
func (c *Client) readPump(s *socket) {
	var cause error
	defer func() {
		s.shutdown()
		c.closed(s.gen, cause)
	}()

	s.conn.SetReadLimit(c.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	for {
		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			cause = err
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", zap.String("identity", c.identity), zap.Error(err))
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.deliver(message)
	}
}

// writePump serializes writes and sends heartbeat pings.
func (c *Client) writePump(s *socket) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.closing:
			c.drain(s)
			close(s.flushed)
			return
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("websocket write error", zap.String("identity", c.identity), zap.Error(err))
				// the read pump observes the closed conn and reports it
				s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				logger.Warn("websocket ping failed", zap.String("identity", c.identity), zap.Error(err))
				s.conn.Close()
				return
			}
		}
	}
}

// drain writes whatever is still queued on s without blocking for more.
func (c *Client) drain(s *socket) {
	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket flush stopped", zap.String("identity", c.identity), zap.Error(err))
				return
			}
		default:
			return
		}
	}
}
