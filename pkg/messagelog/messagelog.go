// Package messagelog keeps the inbound envelopes of a session in arrival order.
package messagelog

import (
	"sync"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/metrics"
	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"github.com/gammazero/deque"
)

const DefaultCapacity = 1000

// Log is a bounded append-only ring. Once full, the oldest entry is evicted.
type Log struct {
	mu       sync.RWMutex
	entries  *deque.Deque[protocol.Message]
	capacity int
	seq      uint64
	now      func() time.Time
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  deque.New[protocol.Message](capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append stamps env with the next sequence number and stores it.
func (l *Log) Append(env protocol.Envelope) protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	m := protocol.Message{Seq: l.seq, ReceivedAt: l.now(), Envelope: env}
	if l.entries.Len() >= l.capacity {
		l.entries.PopFront()
	}
	l.entries.PushBack(m)
	metrics.MessageLogSize.Set(float64(l.entries.Len()))
	return m
}

// Snapshot copies the log, oldest first.
func (l *Log) Snapshot() []protocol.Message {
	return l.Filter(nil)
}

// Filter returns the entries for which keep is true, oldest first. A nil keep matches all.
func (l *Log) Filter(keep func(protocol.Message) bool) []protocol.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]protocol.Message, 0, l.entries.Len())
	for i := 0; i < l.entries.Len(); i++ {
		m := l.entries.At(i)
		if keep == nil || keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Len()
}

func (l *Log) Cap() int {
	return l.capacity
}

// LastSeq is the sequence number of the newest entry ever appended.
func (l *Log) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
