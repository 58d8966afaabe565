// Package room is the chat abstraction over the shared socket: it sends the
// room control frames and materializes one room's conversation from the log.
package room

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/eventbus"
	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/messagelog"
	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"go.uber.org/zap"
)

// EchoWindow bounds how long an optimistic entry waits for the server echo
// of the same sender and text.
const EchoWindow = 10 * time.Second

// Conn is the part of the connection manager a room needs.
type Conn interface {
	Send(frame []byte) bool
	IsConnected() bool
}

// ChatEntry is one visible line of a room conversation.
type ChatEntry struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	IsOwn     bool   `json:"isOwn"`
}

// Channel is a view of one room. It is safe for concurrent use.
type Channel struct {
	conn Conn
	log  *messagelog.Log
	bus  *eventbus.EventBus
	now  func() time.Time

	mu      sync.Mutex
	roomID  string
	entries []ChatEntry
	seen    map[string]struct{}
	pending []pendingEcho
	lastSeq uint64
	sub     *eventbus.Subscription
	joined  bool
	local   int

	listeners []func([]ChatEntry)
}

// pendingEcho is an optimistic entry that has not been echoed yet.
type pendingEcho struct {
	idx  int
	sent time.Time
}

// New builds a channel for roomID, seeds it from the log and subscribes to the bus.
// It does not join; call Join when the view becomes active.
func New(roomID string, conn Conn, log *messagelog.Log, bus *eventbus.EventBus) *Channel {
	ch := &Channel{
		conn:   conn,
		log:    log,
		bus:    bus,
		now:    time.Now,
		roomID: roomID,
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.attachLocked()
	return ch
}

// RoomID returns the current room.
func (ch *Channel) RoomID() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.roomID
}

// Join sends join_room. Fire-and-forget. After Leave it follows the bus
// again, rebuilding the view from the log.
func (ch *Channel) Join() bool {
	ch.mu.Lock()
	roomID := ch.roomID
	ch.joined = true
	var (
		view      []ChatEntry
		listeners []func([]ChatEntry)
	)
	if ch.sub == nil {
		ch.attachLocked()
		view = ch.viewLocked()
		listeners = ch.listeners
	}
	ch.mu.Unlock()

	notify(listeners, view)
	return ch.conn.Send(protocol.JoinRoom(roomID))
}

// Joined reports whether the last control frame was a join.
func (ch *Channel) Joined() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joined
}

// Leave sends leave_room and stops following the bus.
func (ch *Channel) Leave() bool {
	ch.mu.Lock()
	roomID := ch.roomID
	ch.joined = false
	ch.detachLocked()
	ch.mu.Unlock()
	return ch.conn.Send(protocol.LeaveRoom(roomID))
}

// Switch leaves the current room, rebuilds the view for newRoomID and joins it.
func (ch *Channel) Switch(newRoomID string) {
	ch.mu.Lock()
	if newRoomID == ch.roomID && ch.sub != nil {
		ch.mu.Unlock()
		return
	}
	old := ch.roomID
	ch.detachLocked()
	ch.roomID = newRoomID
	ch.attachLocked()
	view := ch.viewLocked()
	listeners := ch.listeners
	ch.joined = true
	ch.mu.Unlock()

	ch.conn.Send(protocol.LeaveRoom(old))
	ch.conn.Send(protocol.JoinRoom(newRoomID))
	notify(listeners, view)
}

// SendChatMessage trims message and, when non-empty and connected, inserts
// an optimistic entry and sends chat_message. It reports whether it sent.
func (ch *Channel) SendChatMessage(message, senderName string) bool {
	message = strings.TrimSpace(message)
	if message == "" || !ch.conn.IsConnected() {
		return false
	}

	ch.mu.Lock()
	ch.local++
	entry := ChatEntry{
		ID:        "local-" + strconv.Itoa(ch.local),
		Sender:    senderName,
		Message:   message,
		Timestamp: ch.now().UTC().Format(time.RFC3339Nano),
		IsOwn:     true,
	}
	ch.seen[entry.Timestamp] = struct{}{}
	ch.pending = append(ch.pending, pendingEcho{idx: len(ch.entries), sent: ch.now()})
	ch.entries = append(ch.entries, entry)
	roomID := ch.roomID
	view := ch.viewLocked()
	listeners := ch.listeners
	ch.mu.Unlock()

	notify(listeners, view)
	if !ch.conn.Send(protocol.ChatMessage(roomID, message, senderName)) {
		ch.mu.Lock()
		ch.settleLocked(entry.Timestamp)
		ch.mu.Unlock()
		return false
	}
	return true
}

// View returns the ordered entries of the room.
func (ch *Channel) View() []ChatEntry {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.viewLocked()
}

// OnChange registers fn to receive the view after each change.
func (ch *Channel) OnChange(fn func([]ChatEntry)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.listeners = append(ch.listeners, fn)
}

// Close unsubscribes without sending leave_room.
func (ch *Channel) Close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.detachLocked()
}

func (ch *Channel) attachLocked() {
	ch.entries = nil
	ch.pending = nil
	ch.seen = make(map[string]struct{})
	ch.lastSeq = 0

	// subscribe before seeding; the lock holds the dispatcher off until the
	// seed is in place and lastSeq filters what the log already covered
	if ch.bus != nil {
		ch.sub = ch.bus.Subscribe(ch.onMessage, protocol.TypeNewMessage)
	}
	if ch.log != nil {
		ch.lastSeq = ch.log.LastSeq()
		roomID := ch.roomID
		for _, m := range ch.log.Filter(func(m protocol.Message) bool {
			return m.Type == protocol.TypeNewMessage && m.Get("room_id").String() == roomID
		}) {
			ch.applyLocked(m)
		}
	}
}

func (ch *Channel) detachLocked() {
	if ch.sub != nil {
		ch.sub.Unsubscribe()
		ch.sub = nil
	}
}

func (ch *Channel) onMessage(_ context.Context, m protocol.Message) error {
	ch.mu.Lock()
	if ch.sub == nil || m.Seq <= ch.lastSeq || m.Get("room_id").String() != ch.roomID {
		ch.mu.Unlock()
		return nil
	}
	if !ch.applyLocked(m) {
		ch.mu.Unlock()
		return nil
	}
	view := ch.viewLocked()
	listeners := ch.listeners
	ch.mu.Unlock()

	notify(listeners, view)
	return nil
}

// applyLocked materializes m. It reports whether the view changed.
func (ch *Channel) applyLocked(m protocol.Message) bool {
	if m.Seq > ch.lastSeq {
		ch.lastSeq = m.Seq
	}
	nm := m.AsNewMessage()
	key := nm.Timestamp
	if key == "" {
		key = "seq:" + strconv.FormatUint(m.Seq, 10)
	}
	if _, dup := ch.seen[key]; dup {
		ch.settleLocked(key)
		return false
	}

	// the server restamps our own messages, so match recent echoes on content
	ch.expireLocked()
	for i, p := range ch.pending {
		own := ch.entries[p.idx]
		if own.Sender == nm.Sender && own.Message == nm.Message {
			ch.pending = append(ch.pending[:i:i], ch.pending[i+1:]...)
			ch.seen[key] = struct{}{}
			logger.Debug("reconciled optimistic chat entry",
				zap.String("room", ch.roomID),
				zap.String("local_ts", own.Timestamp),
				zap.String("server_ts", nm.Timestamp))
			return false
		}
	}

	ch.seen[key] = struct{}{}
	ch.entries = append(ch.entries, ChatEntry{
		ID:        "msg-" + strconv.FormatUint(m.Seq, 10),
		Sender:    nm.Sender,
		Message:   nm.Message,
		Timestamp: nm.Timestamp,
		IsOwn:     false,
	})
	return true
}

// settleLocked drops the pending optimistic entry stamped ts, if any.
func (ch *Channel) settleLocked(ts string) {
	for i, p := range ch.pending {
		if ch.entries[p.idx].Timestamp == ts {
			ch.pending = append(ch.pending[:i:i], ch.pending[i+1:]...)
			return
		}
	}
}

// expireLocked drops optimistic entries older than EchoWindow; they stay
// visible but no longer absorb echoes.
func (ch *Channel) expireLocked() {
	cutoff := ch.now().Add(-EchoWindow)
	kept := ch.pending[:0]
	for _, p := range ch.pending {
		if p.sent.After(cutoff) {
			kept = append(kept, p)
		}
	}
	ch.pending = kept
}

func (ch *Channel) viewLocked() []ChatEntry {
	out := make([]ChatEntry, len(ch.entries))
	copy(out, ch.entries)
	return out
}

func notify(listeners []func([]ChatEntry), view []ChatEntry) {
	for _, fn := range listeners {
		fn(view)
	}
}
