// Package eventbus fans routed envelopes out to independent consumers.
//
// A single dispatcher goroutine delivers events, so every subscriber sees
// them in publish order.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("eventbus: closed")

// Handler processes one event
type Handler func(ctx context.Context, msg protocol.Message) error

type item struct {
	msg  protocol.Message
	done chan struct{} // barrier when non-nil
}

type subscriber struct {
	id      uint64
	types   map[protocol.Type]struct{}
	handler Handler
}

func (s *subscriber) wants(t protocol.Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// EventBus is an ordered pub/sub channel
type EventBus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	nextID      uint64

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan item
	wg     sync.WaitGroup
}

// New creates a bus with a buffered queue and starts its dispatcher.
func New(ctx context.Context, queueSize int) *EventBus {
	if queueSize <= 0 {
		queueSize = 256
	}
	busCtx, cancel := context.WithCancel(ctx)
	eb := &EventBus{
		ctx:    busCtx,
		cancel: cancel,
		queue:  make(chan item, queueSize),
	}
	eb.wg.Add(1)
	go eb.worker()
	return eb
}

// Subscription is returned by Subscribe
type Subscription struct {
	bus  *EventBus
	id   uint64
	once sync.Once
}

// Unsubscribe stops delivery. Events already being dispatched may still arrive.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// Subscribe registers handler for the given types, or for every type when none are given.
func (eb *EventBus) Subscribe(handler Handler, types ...protocol.Type) *Subscription {
	sub := &subscriber{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[protocol.Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	eb.mu.Lock()
	eb.nextID++
	sub.id = eb.nextID
	eb.subscribers = append(eb.subscribers, sub)
	eb.mu.Unlock()

	return &Subscription{bus: eb, id: sub.id}
}

func (eb *EventBus) remove(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subscribers {
		if s.id == id {
			eb.subscribers = append(eb.subscribers[:i:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish enqueues msg, blocking while the queue is full.
func (eb *EventBus) Publish(msg protocol.Message) error {
	select {
	case <-eb.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case <-eb.ctx.Done():
		return ErrClosed
	case eb.queue <- item{msg: msg}:
		return nil
	}
}

// Flush waits until every event published before the call has been dispatched.
func (eb *EventBus) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case <-eb.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case eb.queue <- item{done: done}:
	}
	select {
	case <-done:
		return nil
	case <-eb.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case it := <-eb.queue:
			if it.done != nil {
				close(it.done)
				continue
			}
			eb.dispatch(it.msg)
		}
	}
}

func (eb *EventBus) dispatch(msg protocol.Message) {
	eb.mu.RLock()
	subs := make([]*subscriber, 0, len(eb.subscribers))
	for _, s := range eb.subscribers {
		if s.wants(msg.Type) {
			subs = append(subs, s)
		}
	}
	eb.mu.RUnlock()

	for _, s := range subs {
		func(s *subscriber) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event handler panic",
						zap.String("type", string(msg.Type)),
						zap.Uint64("seq", msg.Seq),
						zap.Any("error", r))
				}
			}()
			if err := s.handler(eb.ctx, msg); err != nil {
				logger.Error("event handler error",
					zap.String("type", string(msg.Type)),
					zap.Uint64("seq", msg.Seq),
					zap.Error(err))
			}
		}(s)
	}
}

// Close stops the dispatcher. Queued events are dropped.
func (eb *EventBus) Close() {
	eb.cancel()
	eb.wg.Wait()
}
