// Package session is the identity-scoped composition root: it owns the
// connection, log, bus, notifications and router, and hands them to the
// rooms and projectors it creates.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/code-100-precent/LingClassroom/pkg/circuitbreaker"
	"github.com/code-100-precent/LingClassroom/pkg/config"
	"github.com/code-100-precent/LingClassroom/pkg/eventbus"
	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/messagelog"
	"github.com/code-100-precent/LingClassroom/pkg/notification"
	"github.com/code-100-precent/LingClassroom/pkg/projector"
	"github.com/code-100-precent/LingClassroom/pkg/room"
	"github.com/code-100-precent/LingClassroom/pkg/router"
	"github.com/code-100-precent/LingClassroom/pkg/scheduler"
	"github.com/code-100-precent/LingClassroom/pkg/websocket"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("session: closed")

// Session bundles everything bound to one signed-in identity.
type Session struct {
	cfg      *config.Config
	identity string

	log     *messagelog.Log
	bus     *eventbus.EventBus
	center  *notification.Center
	router  *router.Router
	client  *websocket.Client
	sched   *scheduler.Scheduler
	breaker *circuitbreaker.CircuitBreaker
	http    *http.Client

	mu         sync.Mutex
	started    bool
	closed     bool
	rooms      []*room.Channel
	projectors []*projector.Projector
}

// Option customizes a Session
type Option func(*options)

type options struct {
	client []websocket.Option
	notify notification.Options
	http   *http.Client
}

// WithClientOptions forwards options to the connection manager.
func WithClientOptions(opts ...websocket.Option) Option {
	return func(o *options) { o.client = append(o.client, opts...) }
}

// WithNotificationOptions overrides the notification center options.
func WithNotificationOptions(n notification.Options) Option {
	return func(o *options) { o.notify = n }
}

// WithHTTPClient sets the client used for dashboard refreshes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.http = c }
}

// New wires a session for identity. It does not dial.
func New(cfg *config.Config, identity string, opts ...Option) (*Session, error) {
	if identity == "" {
		return nil, websocket.ErrEmptyIdentity
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}

	o := options{notify: notification.Options{DefaultDuration: cfg.NotificationDuration}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		cfg:      cfg,
		identity: identity,
		log:      messagelog.New(cfg.MessageLogSize),
		bus:      eventbus.New(context.Background(), 0),
		center:   notification.NewCenter(o.notify),
		sched:    scheduler.NewScheduler(nil),
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig("dashboard-stats")),
		http:     o.http,
	}
	s.router = router.New(s.log, s.center, s.bus)
	if cfg.WSToken != "" {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+cfg.WSToken)
		o.client = append([]websocket.Option{websocket.WithHeader(h)}, o.client...)
	}
	s.client = websocket.NewClient(identity, ClientConfig(cfg), s.router.OnFrame, o.client...)
	return s, nil
}

// ClientConfig maps the application config onto the connection manager's.
func ClientConfig(cfg *config.Config) *websocket.Config {
	wc := websocket.DefaultConfig()
	wc.Host = cfg.WSHost
	wc.Secure = cfg.WSSecure
	wc.Retry = circuitbreaker.DefaultRetryConfig().
		WithMaxAttempts(cfg.MaxReconnectAttempts).
		WithInitialInterval(cfg.ReconnectBaseDelay)
	wc.HeartbeatInterval = cfg.HeartbeatInterval
	wc.PongTimeout = cfg.PongTimeout
	wc.OutboundQueueSize = cfg.OutboundQueueSize
	return wc
}

// Start dials the backend and starts the projector ticks.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.started {
		s.started = true
		s.sched.Start()
	}
	s.mu.Unlock()

	logger.Info("session starting", zap.String("identity", s.identity), zap.String("url", s.client.URL()))
	return s.client.Connect(ctx)
}

// Room builds a channel for roomID bound to this session's connection.
func (s *Session) Room(roomID string) (*room.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ch := room.New(roomID, s.client, s.log, s.bus)
	s.rooms = append(s.rooms, ch)
	return ch, nil
}

// Projector builds an aggregate projector seeded with initial.
func (s *Session) Projector(initial []byte) (*projector.Projector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	p, err := projector.New(initial, s.client, s.bus, projector.Options{
		Interval:     s.cfg.ProjectorInterval,
		Simulate:     s.cfg.ProjectorSimulate,
		RecentWindow: s.cfg.ProjectorRecentWindow,
		APIBaseURL:   s.cfg.APIBaseURL,
		Token:        s.cfg.APIToken,
		RefreshLimit: s.cfg.RefreshRateLimit,
		HTTPClient:   s.http,
		Breaker:      s.breaker,
		Scheduler:    s.sched,
	})
	if err != nil {
		return nil, err
	}
	s.projectors = append(s.projectors, p)
	return p, nil
}

func (s *Session) Identity() string                    { return s.identity }
func (s *Session) Config() *config.Config              { return s.cfg }
func (s *Session) Conn() *websocket.Client             { return s.client }
func (s *Session) Log() *messagelog.Log                { return s.log }
func (s *Session) Bus() *eventbus.EventBus             { return s.bus }
func (s *Session) Notifications() *notification.Center { return s.center }
func (s *Session) IsConnected() bool                   { return s.client.IsConnected() }

// Close tears the session down: joined rooms send leave_room and detach,
// projectors stop, the socket flushes and closes with 1000, and the bus and
// notification timers stop. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rooms, projectors := s.rooms, s.projectors
	s.rooms, s.projectors = nil, nil
	s.mu.Unlock()

	for _, ch := range rooms {
		if ch.Joined() {
			// best effort; dropped when not connected
			ch.Leave()
		}
		ch.Close()
	}
	for _, p := range projectors {
		p.Close()
	}
	s.client.Disconnect()
	s.sched.Stop()
	s.bus.Close()
	s.center.Close()
	logger.Info("session closed", zap.String("identity", s.identity))
}
