// Package notification holds the transient UI notifications of a session.
package notification

import (
	"sync"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/metrics"
	"github.com/code-100-precent/LingClassroom/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Severity is the visual category of a notification
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

const DefaultDuration = 5 * time.Second

// ParseSeverity maps free text from the wire to a Severity; anything unknown is info.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeveritySuccess, SeverityError, SeverityInfo, SeverityWarning:
		return Severity(s)
	default:
		return SeverityInfo
	}
}

// Notification is one visible toast
type Notification struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Message    string        `json:"message,omitempty"`
	Type       Severity      `json:"type"`
	AutoRemove bool          `json:"autoRemove"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Request describes a notification to add. Nil AutoRemove means true, zero
// Duration means the center default.
type Request struct {
	Title      string
	Message    string
	Type       Severity
	AutoRemove *bool
	Duration   time.Duration
}

// EventKind tells listeners what changed
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
	EventCleared
)

// Event is delivered to listeners after each change
type Event struct {
	Kind         EventKind
	Notification Notification
}

// Options configures a Center
type Options struct {
	DefaultDuration time.Duration
	AfterFunc       utils.AfterFunc
}

// Center stores notifications in insertion order and removes them on timers.
type Center struct {
	mu        sync.Mutex
	items     []Notification
	timers    map[string]utils.Timer
	listeners map[int]func(Event)
	nextID    int
	closed    bool

	defaultDuration time.Duration
	afterFunc       utils.AfterFunc
	now             func() time.Time
}

func NewCenter(opts Options) *Center {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = DefaultDuration
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = utils.StdAfterFunc
	}
	return &Center{
		timers:          make(map[string]utils.Timer),
		listeners:       make(map[int]func(Event)),
		defaultDuration: opts.DefaultDuration,
		afterFunc:       opts.AfterFunc,
		now:             time.Now,
	}
}

// Add stores a notification and schedules its removal when AutoRemove is set.
func (c *Center) Add(req Request) (Notification, error) {
	if req.Title == "" {
		return Notification{}, ErrEmptyTitle
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	n := Notification{
		ID:         id.String(),
		Title:      req.Title,
		Message:    req.Message,
		Type:       ParseSeverity(string(req.Type)),
		AutoRemove: req.AutoRemove == nil || *req.AutoRemove,
		Duration:   req.Duration,
		CreatedAt:  c.now(),
	}
	if n.Duration <= 0 {
		n.Duration = c.defaultDuration
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Notification{}, ErrClosed
	}
	c.items = append(c.items, n)
	if n.AutoRemove {
		nid := n.ID
		c.timers[nid] = c.afterFunc(n.Duration, func() { c.Remove(nid) })
	}
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(n.Type)).Inc()
	logger.Debug("notification added",
		zap.String("id", n.ID),
		zap.String("type", string(n.Type)),
		zap.String("title", n.Title))
	emit(listeners, Event{Kind: EventAdded, Notification: n})
	return n, nil
}

// Remove dismisses a notification. It reports whether id was present.
func (c *Center) Remove(id string) bool {
	c.mu.Lock()
	idx := -1
	for i, n := range c.items {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	removed := c.items[idx]
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	emit(listeners, Event{Kind: EventRemoved, Notification: removed})
	return true
}

// Clear removes every notification and cancels their timers.
func (c *Center) Clear() {
	c.mu.Lock()
	c.stopTimersLocked()
	c.items = nil
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	emit(listeners, Event{Kind: EventCleared})
}

// List returns the current notifications, oldest first.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Subscribe registers fn for change events and returns a cancel func.
func (c *Center) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Close cancels all timers. Later Add calls fail with ErrClosed.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimersLocked()
}

func (c *Center) stopTimersLocked() {
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *Center) snapshotListenersLocked() []func(Event) {
	out := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		out = append(out, fn)
	}
	return out
}

func emit(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		utils.SafeCall(func() error {
			fn(ev)
			return nil
		}, func(err error) {
			logger.Error("notification listener panic", zap.Error(err))
		})
	}
}
