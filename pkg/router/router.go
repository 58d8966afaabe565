// Package router turns raw socket frames into logged envelopes, UI
// notifications and bus events.
package router

import (
	"strings"

	"github.com/code-100-precent/LingClassroom/pkg/eventbus"
	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/messagelog"
	"github.com/code-100-precent/LingClassroom/pkg/metrics"
	"github.com/code-100-precent/LingClassroom/pkg/notification"
	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"go.uber.org/zap"
)

// Notifier is the sink for mapped notifications.
type Notifier interface {
	Add(req notification.Request) (notification.Notification, error)
}

// Router must be fed from a single goroutine, the connection read pump.
type Router struct {
	log      *messagelog.Log
	notifier Notifier
	bus      *eventbus.EventBus
}

func New(log *messagelog.Log, notifier Notifier, bus *eventbus.EventBus) *Router {
	return &Router{log: log, notifier: notifier, bus: bus}
}

// OnFrame handles one inbound text frame. Malformed frames are logged and dropped.
func (r *Router) OnFrame(raw []byte) {
	env, err := protocol.Parse(raw)
	if err != nil {
		metrics.FramesReceived.WithLabelValues("invalid").Inc()
		logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	metrics.FramesReceived.WithLabelValues(string(env.Type)).Inc()

	msg := r.log.Append(env)
	if !env.Type.Known() {
		logger.Debug("unrecognized envelope type", zap.String("type", string(env.Type)), zap.Uint64("seq", msg.Seq))
	}

	if req, ok := MapNotification(env); ok && r.notifier != nil {
		if _, err := r.notifier.Add(req); err != nil {
			logger.Warn("notification not added", zap.String("type", string(env.Type)), zap.Error(err))
		}
	}

	if r.bus != nil {
		if err := r.bus.Publish(msg); err != nil {
			logger.Debug("event bus rejected message", zap.Uint64("seq", msg.Seq), zap.Error(err))
		}
	}
}

// Titles used when a mapped payload carries no message.
const (
	DefaultQuizTitle   = "Quiz completed"
	DefaultSystemTitle = "System notification"
)

// MapNotification derives the toast shown for an envelope, if any. Every
// quiz_completed, new_message and system_notification envelope maps to one.
func MapNotification(env protocol.Envelope) (notification.Request, bool) {
	switch env.Type {
	case protocol.TypeQuizCompleted:
		return notification.Request{
			Title: firstNonEmpty(env.String("message", ""), DefaultQuizTitle),
			Type:  notification.SeveritySuccess,
		}, true
	case protocol.TypeNewMessage:
		return notification.Request{
			Title: "New message from " + env.String("sender", "Unknown"),
			Type:  notification.SeverityInfo,
		}, true
	case protocol.TypeSystemNotification:
		sn := env.AsSystemNotification()
		return notification.Request{
			Title: firstNonEmpty(sn.Message, sn.Title, DefaultSystemTitle),
			Type:  notification.ParseSeverity(sn.Severity),
		}, true
	default:
		return notification.Request{}, false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
