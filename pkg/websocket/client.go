// Package websocket keeps one identity-scoped socket to the classroom backend
// alive, reconnecting with exponential backoff after abnormal closures.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/metrics"
	"github.com/code-100-precent/LingClassroom/pkg/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FrameHandler receives every inbound text frame in arrival order.
type FrameHandler func(raw []byte)

// StateEvent describes a state transition. Err is the cause of an abnormal closure.
type StateEvent struct {
	Old State
	New State
	Err error
}

// Option customizes a Client
type Option func(*Client)

// WithAfterFunc replaces the timer used to schedule reconnects.
func WithAfterFunc(fn utils.AfterFunc) Option {
	return func(c *Client) { c.afterFunc = fn }
}

// WithDialer replaces the gorilla dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithHeader adds headers to the opening handshake.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// Client is the connection manager for one identity.
type Client struct {
	identity  string
	config    *Config
	handler   FrameHandler
	dialer    *websocket.Dialer
	header    http.Header
	afterFunc utils.AfterFunc

	mu        sync.Mutex
	state     State
	attempts  int
	sock      *socket
	gen       uint64
	timer     utils.Timer
	stopped   bool
	life      context.Context
	cancel    context.CancelFunc
	pending   [][]byte
	observers map[int]func(StateEvent)
	nextObs   int
}

// NewClient builds a client in IDLE state. It does not dial.
func NewClient(identity string, cfg *Config, handler FrameHandler, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		identity:  identity,
		config:    cfg,
		handler:   handler,
		afterFunc: utils.StdAfterFunc,
		state:     StateIdle,
		observers: make(map[int]func(StateEvent)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
		}
	}
	return c
}

// URL is the endpoint ws(s)://<host>/ws/<identity>.
func (c *Client) URL() string {
	scheme := "ws"
	if c.config.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.config.Host, Path: RoutePrefix + c.identity}
	return u.String()
}

// Identity returns the identity the socket is bound to.
func (c *Client) Identity() string {
	return c.identity
}

// State returns the current state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the socket is OPEN.
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// Attempts returns the number of reconnects scheduled since the last successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// OnStateChange registers an observer. Observers run outside the client lock
// and may be called from different goroutines.
func (c *Client) OnStateChange(fn func(StateEvent)) (cancel func()) {
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Connect dials the backend. ctx bounds this first handshake only; the
// connection then lives until Disconnect. It is a no-op without an identity
// or while already CONNECTING, OPEN or RECONNECTING. It starts a fresh backoff
// budget. A failed dial counts as an abnormal closure: the error is returned
// and a reconnect is scheduled.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.identity == "" {
		c.mu.Unlock()
		return ErrEmptyIdentity
	}
	switch c.state {
	case StateConnecting, StateOpen, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.stopped = false
	c.attempts = 0
	c.life, c.cancel = context.WithCancel(context.Background())
	life := c.life
	c.mu.Unlock()

	dialCtx, cancel := mergeCancel(ctx, life)
	defer cancel()
	return c.dial(dialCtx)
}

// Disconnect closes the socket with code 1000 and cancels any pending
// reconnect. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	sock := c.sock
	c.sock = nil
	c.gen++
	c.pending = nil
	ev, changed := c.setStateLocked(StateClosed, nil)
	obs := c.observersLocked()
	c.mu.Unlock()

	if sock != nil {
		sock.closeNormal(c.config.WriteTimeout)
	}
	if changed {
		emit(obs, ev)
	}
	logger.Info("websocket disconnected", zap.String("identity", c.identity))
}

// Send transmits frame while OPEN. Otherwise the frame is queued when an
// outbound queue is configured, or dropped. It reports whether the frame was accepted.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateOpen && c.sock != nil {
		select {
		case c.sock.send <- frame:
			metrics.FramesSent.WithLabelValues("sent").Inc()
			return true
		default:
			metrics.FramesSent.WithLabelValues("dropped").Inc()
			logger.Warn("websocket send buffer full, dropping frame", zap.String("identity", c.identity))
			return false
		}
	}

	if c.config.OutboundQueueSize > 0 && !c.stopped {
		if len(c.pending) >= c.config.OutboundQueueSize {
			c.pending = c.pending[1:]
		}
		c.pending = append(c.pending, frame)
		metrics.FramesSent.WithLabelValues("queued").Inc()
		return true
	}
	metrics.FramesSent.WithLabelValues("dropped").Inc()
	logger.Debug("websocket not open, dropping frame",
		zap.String("identity", c.identity),
		zap.String("state", c.state.String()))
	return false
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrDisconnected
	}
	ev, changed := c.setStateLocked(StateConnecting, nil)
	gen := c.gen
	obs := c.observersLocked()
	c.mu.Unlock()
	if changed {
		emit(obs, ev)
	}

	target := c.URL()
	conn, resp, err := c.dialer.DialContext(ctx, target, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		logger.Warn("websocket dial failed", zap.String("url", target), zap.Error(err))
		c.closed(gen, err)
		return fmt.Errorf("websocket: dial %s: %w", target, err)
	}

	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return ErrDisconnected
	}
	c.gen++
	sock := newSocket(conn, c.gen, c.config.SendBufferSize)
	c.sock = sock
	c.attempts = 0
	for _, f := range c.pending {
		select {
		case sock.send <- f:
		default:
			logger.Warn("websocket send buffer full while flushing queue")
		}
	}
	c.pending = nil
	ev, changed = c.setStateLocked(StateOpen, nil)
	obs = c.observersLocked()
	c.mu.Unlock()

	go c.writePump(sock)
	go c.readPump(sock)

	logger.Info("websocket connected", zap.String("url", target))
	if changed {
		emit(obs, ev)
	}
	return nil
}

// closed handles the end of socket generation gen, scheduling a reconnect
// unless the closure was normal or attempts are exhausted.
func (c *Client) closed(gen uint64, cause error) {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.gen++

	var ev StateEvent
	var changed bool
	switch {
	case websocket.IsCloseError(cause, websocket.CloseNormalClosure):
		logger.Info("websocket closed normally", zap.String("identity", c.identity))
		ev, changed = c.setStateLocked(StateClosed, nil)
	case c.config.Retry.CanRetry(c.attempts):
		delay := c.config.Retry.Delay(c.attempts)
		c.attempts++
		c.timer = c.afterFunc(delay, c.reconnect)
		metrics.ReconnectsTotal.Inc()
		logger.Warn("websocket closed abnormally, reconnecting",
			zap.String("identity", c.identity),
			zap.Int("attempt", c.attempts),
			zap.Duration("delay", delay),
			zap.Error(cause))
		ev, changed = c.setStateLocked(StateReconnecting, cause)
	default:
		logger.Error("websocket reconnect attempts exhausted",
			zap.String("identity", c.identity),
			zap.Int("attempts", c.attempts),
			zap.Error(cause))
		ev, changed = c.setStateLocked(StateClosed, cause)
	}
	obs := c.observersLocked()
	c.mu.Unlock()

	if changed {
		emit(obs, ev)
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.stopped || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	life := c.life
	c.mu.Unlock()

	_ = c.dial(life)
}

func (c *Client) setStateLocked(s State, cause error) (StateEvent, bool) {
	if c.state == s {
		return StateEvent{}, false
	}
	ev := StateEvent{Old: c.state, New: s, Err: cause}
	c.state = s
	metrics.SetConnectionState(s.String(), allStates)
	return ev, true
}

func (c *Client) observersLocked() []func(StateEvent) {
	out := make([]func(StateEvent), 0, len(c.observers))
	for _, fn := range c.observers {
		out = append(out, fn)
	}
	return out
}

func (c *Client) deliver(raw []byte) {
	if c.handler == nil {
		return
	}
	utils.SafeCall(func() error {
		c.handler(raw)
		return nil
	}, func(err error) {
		logger.Error("frame handler panic", zap.String("identity", c.identity), zap.Error(err))
	})
}

func emit(obs []func(StateEvent), ev StateEvent) {
	for _, fn := range obs {
		utils.SafeCall(func() error {
			fn(ev)
			return nil
		}, func(err error) {
			logger.Error("state observer panic", zap.Error(err))
		})
	}
}

// mergeCancel returns a context cancelled when either parent is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
