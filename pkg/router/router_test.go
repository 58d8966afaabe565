package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/eventbus"
	"github.com/code-100-precent/LingClassroom/pkg/messagelog"
	"github.com/code-100-precent/LingClassroom/pkg/notification"
	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	reqs []notification.Request
}

func (n *recordingNotifier) Add(req notification.Request) (notification.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
	return notification.Notification{Title: req.Title, Type: req.Type}, nil
}

func setup(t *testing.T) (*Router, *messagelog.Log, *recordingNotifier, *eventbus.EventBus) {
	t.Helper()
	log := messagelog.New(100)
	n := &recordingNotifier{}
	bus := eventbus.New(context.Background(), 16)
	t.Cleanup(bus.Close)
	return New(log, n, bus), log, n, bus
}

func flush(t *testing.T, bus *eventbus.EventBus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Flush(ctx))
}

func TestMalformedFramesAreDropped(t *testing.T) {
	r, log, n, _ := setup(t)

	r.OnFrame([]byte(`{not json`))
	r.OnFrame([]byte(`{"data":{"message":"no type"}}`))
	r.OnFrame([]byte(`"just a string"`))

	assert.Equal(t, 0, log.Len())
	assert.Empty(t, n.reqs)
}

func TestNotificationMapping(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  *notification.Request
	}{
		{
			name:  "quiz completed",
			frame: `{"type":"quiz_completed","data":{"message":"Quiz 'Algebra' completed with 90% score!"}}`,
			want:  &notification.Request{Title: "Quiz 'Algebra' completed with 90% score!", Type: notification.SeveritySuccess},
		},
		{
			name:  "new message",
			frame: `{"type":"new_message","data":{"room_id":"general","sender":"Bob","message":"hi"}}`,
			want:  &notification.Request{Title: "New message from Bob", Type: notification.SeverityInfo},
		},
		{
			name:  "system notification",
			frame: `{"type":"system_notification","data":{"title":"Letter Generated","message":"Letter ready","type":"warning"}}`,
			want:  &notification.Request{Title: "Letter ready", Type: notification.SeverityWarning},
		},
		{
			name:  "system notification unknown severity",
			frame: `{"type":"system_notification","data":{"message":"hey","type":"fatal"}}`,
			want:  &notification.Request{Title: "hey", Type: notification.SeverityInfo},
		},
		{
			name:  "quiz completed without message",
			frame: `{"type":"quiz_completed","data":{"score":9}}`,
			want:  &notification.Request{Title: DefaultQuizTitle, Type: notification.SeveritySuccess},
		},
		{
			name:  "system notification falls back to title",
			frame: `{"type":"system_notification","data":{"title":"Maintenance","type":"warning"}}`,
			want:  &notification.Request{Title: "Maintenance", Type: notification.SeverityWarning},
		},
		{
			name:  "system notification without text",
			frame: `{"type":"system_notification","data":{"type":"warning"}}`,
			want:  &notification.Request{Title: DefaultSystemTitle, Type: notification.SeverityWarning},
		},
		{
			name:  "stats update has no toast",
			frame: `{"type":"system_stats_update","data":{"activeSessions":3}}`,
		},
		{
			name:  "unknown type has no toast",
			frame: `{"type":"mystery","data":{}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, log, n, _ := setup(t)
			r.OnFrame([]byte(tt.frame))

			assert.Equal(t, 1, log.Len())
			if tt.want == nil {
				assert.Empty(t, n.reqs)
				return
			}
			require.Len(t, n.reqs, 1)
			assert.Equal(t, *tt.want, n.reqs[0])
		})
	}
}

func TestOrderPreserved(t *testing.T) {
	r, log, _, bus := setup(t)

	var seen []uint64
	bus.Subscribe(func(_ context.Context, m protocol.Message) error {
		seen = append(seen, m.Seq)
		return nil
	})

	frames := []string{
		`{"type":"new_message","data":{"room_id":"A","message":"1"}}`,
		`{"type":"system_stats_update","data":{}}`,
		`{"type":"new_message","data":{"room_id":"B","message":"2"}}`,
		`{"type":"quiz_completed","data":{"message":"3"}}`,
	}
	for _, f := range frames {
		r.OnFrame([]byte(f))
	}
	flush(t, bus)

	snap := log.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, protocol.TypeNewMessage, snap[0].Type)
	assert.Equal(t, protocol.TypeSystemStatsUpdate, snap[1].Type)
	assert.Equal(t, "2", snap[2].Get("message").String())
	assert.Equal(t, protocol.TypeQuizCompleted, snap[3].Type)
	assert.Equal(t, []uint64{1, 2, 3, 4}, seen)
}

func TestRouterWithRealCenter(t *testing.T) {
	log := messagelog.New(10)
	center := notification.NewCenter(notification.Options{})
	defer center.Close()
	r := New(log, center, nil)

	r.OnFrame([]byte(`{"type":"new_message","data":{"room_id":"general","sender":"Bob","message":"hi","timestamp":"T1"}}`))

	list := center.List()
	require.Len(t, list, 1)
	assert.Equal(t, "New message from Bob", list[0].Title)
	assert.Equal(t, notification.SeverityInfo, list[0].Type)
}

func TestPayloadsWithoutMessageStillNotify(t *testing.T) {
	center := notification.NewCenter(notification.Options{})
	defer center.Close()
	r := New(messagelog.New(10), center, nil)

	r.OnFrame([]byte(`{"type":"quiz_completed","data":{"score":9}}`))
	r.OnFrame([]byte(`{"type":"system_notification","data":{"type":"warning"}}`))

	list := center.List()
	require.Len(t, list, 2)
	assert.Equal(t, DefaultQuizTitle, list[0].Title)
	assert.Equal(t, notification.SeveritySuccess, list[0].Type)
	assert.Equal(t, DefaultSystemTitle, list[1].Title)
	assert.Equal(t, notification.SeverityWarning, list[1].Type)
}
