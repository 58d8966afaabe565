package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/utils"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) utils.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.d
	}
	return out
}

// fireLast runs the newest timer callback even if it was stopped, the way a
// timer that already fired would race with Stop.
func (c *fakeClock) fireLast() {
	c.mu.Lock()
	t := c.timers[len(c.timers)-1]
	c.mu.Unlock()
	t.f()
}

type testServer struct {
	*httptest.Server
	upgrader websocket.Upgrader
	accepted atomic.Int32
	paths    chan string
	conns    chan *websocket.Conn
	onConn   func(conn *websocket.Conn)
}

func newTestServer(t *testing.T, onConn func(conn *websocket.Conn)) *testServer {
	t.Helper()
	ts := &testServer{
		paths:  make(chan string, 16),
		conns:  make(chan *websocket.Conn, 16),
		onConn: onConn,
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.accepted.Add(1)
		ts.paths <- r.URL.Path
		ts.conns <- conn
		if ts.onConn != nil {
			ts.onConn(conn)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) host() string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func testConfig(host string) *Config {
	cfg := DefaultConfig()
	cfg.Host = host
	return cfg
}

func waitState(t *testing.T, c *Client, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == s }, 2*time.Second, 5*time.Millisecond,
		"want state %s, have %s", s, c.State())
}

func TestConnectOpensSocket(t *testing.T) {
	ts := newTestServer(t, nil)
	c := NewClient("u1", testConfig(ts.host()), nil)
	defer c.Disconnect()

	assert.Equal(t, StateIdle, c.State())
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.Equal(t, "/ws/u1", <-ts.paths)
	assert.Equal(t, "ws://"+ts.host()+"/ws/u1", c.URL())
}

func TestConnectWithoutIdentityIsNoop(t *testing.T) {
	ts := newTestServer(t, nil)
	c := NewClient("", testConfig(ts.host()), nil)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrEmptyIdentity)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, int32(0), ts.accepted.Load())
}

func TestConnectTwiceKeepsOneSocket(t *testing.T) {
	ts := newTestServer(t, nil)
	c := NewClient("u1", testConfig(ts.host()), nil)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(1), ts.accepted.Load())
}

func TestFramesDeliveredInOrder(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 20; i++ {
			_ = conn.WriteMessage(websocket.TextMessage, []byte{byte('a' + i)})
		}
	})

	var mu sync.Mutex
	var got []string
	c := NewClient("u1", testConfig(ts.host()), func(raw []byte) {
		mu.Lock()
		got = append(got, string(raw))
		mu.Unlock()
	})
	defer c.Disconnect()
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for i, s := range got {
		assert.Equal(t, string(rune('a'+i)), s)
	}
}

func TestHandlerPanicDoesNotKillSocket(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("panic"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ok"))
	})

	var ok atomic.Bool
	c := NewClient("u1", testConfig(ts.host()), func(raw []byte) {
		if string(raw) == "panic" {
			panic("handler")
		}
		ok.Store(true)
	})
	defer c.Disconnect()
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, ok.Load, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.IsConnected())
}

func TestDialFailuresFollowBackoff(t *testing.T) {
	ts := newTestServer(t, nil)
	host := ts.host()
	ts.Close()

	clock := &fakeClock{}
	c := NewClient("u1", testConfig(host), nil, WithAfterFunc(clock.AfterFunc))

	var events []StateEvent
	var mu sync.Mutex
	c.OnStateChange(func(ev StateEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	assert.Error(t, c.Connect(context.Background()))
	assert.Equal(t, StateReconnecting, c.State())
	assert.Equal(t, 1, c.Attempts())

	for i := 0; i < 5; i++ {
		clock.fireLast()
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, clock.delays())
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 5, clock.count())

	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	assert.Equal(t, StateClosed, last.New)
	assert.Error(t, last.Err)

	// an explicit Connect after CLOSED starts a fresh backoff budget
	assert.Error(t, c.Connect(context.Background()))
	assert.Equal(t, StateReconnecting, c.State())
	assert.Equal(t, 1, c.Attempts())
	require.Equal(t, 6, clock.count())
	assert.Equal(t, time.Second, clock.delays()[5])
	c.Disconnect()
}

func TestAbnormalCloseReconnectsAndResetsAttempts(t *testing.T) {
	var drop atomic.Bool
	drop.Store(true)
	ts := newTestServer(t, func(conn *websocket.Conn) {
		if drop.Load() {
			// no close frame: the client sees 1006
			conn.Close()
		}
	})

	clock := &fakeClock{}
	c := NewClient("u1", testConfig(ts.host()), nil, WithAfterFunc(clock.AfterFunc))
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return clock.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	waitState(t, c, StateReconnecting)
	assert.Equal(t, time.Second, clock.delays()[0])

	drop.Store(false)
	clock.fireLast()
	assert.True(t, c.IsConnected())
	assert.Equal(t, 0, c.Attempts())
	assert.Equal(t, int32(2), ts.accepted.Load())
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})

	clock := &fakeClock{}
	c := NewClient("u1", testConfig(ts.host()), nil, WithAfterFunc(clock.AfterFunc))
	require.NoError(t, c.Connect(context.Background()))

	waitState(t, c, StateClosed)
	assert.Equal(t, 0, clock.count())
}

func TestDisconnectWhileReconnectingCancelsTimer(t *testing.T) {
	ts := newTestServer(t, nil)
	host := ts.host()
	ts.Close()

	clock := &fakeClock{}
	c := NewClient("u1", testConfig(host), nil, WithAfterFunc(clock.AfterFunc))
	_ = c.Connect(context.Background())
	require.Equal(t, StateReconnecting, c.State())

	c.Disconnect()
	assert.Equal(t, StateClosed, c.State())
	assert.True(t, clock.timers[0].stopped.Load())

	// a callback racing with Stop must not dial
	clock.fireLast()
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, clock.count())

	c.Disconnect()
	assert.Equal(t, StateClosed, c.State())
}

func TestDisconnectSendsNormalClosure(t *testing.T) {
	codes := make(chan int, 1)
	ts := newTestServer(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		if ce, ok := err.(*websocket.CloseError); ok {
			codes <- ce.Code
		}
	})

	c := NewClient("u1", testConfig(ts.host()), nil)
	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()

	select {
	case code := <-codes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe a close frame")
	}
	assert.False(t, c.IsConnected())
}

func TestDisconnectFlushesQueuedFrames(t *testing.T) {
	got := make(chan string, 4)
	codes := make(chan int, 1)
	ts := newTestServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ce, ok := err.(*websocket.CloseError); ok {
					codes <- ce.Code
				}
				return
			}
			got <- string(data)
		}
	})

	c := NewClient("u1", testConfig(ts.host()), nil)
	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.Send([]byte(`{"type":"leave_room","room_id":"general"}`)))
	c.Disconnect()

	select {
	case frame := <-got:
		assert.JSONEq(t, `{"type":"leave_room","room_id":"general"}`, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("queued frame was not written before closing")
	}
	select {
	case code := <-codes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe a close frame")
	}
}

func TestSendOnlyWhileOpen(t *testing.T) {
	received := make(chan string, 4)
	ts := newTestServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
	})

	c := NewClient("u1", testConfig(ts.host()), nil)
	assert.False(t, c.Send([]byte(`{"type":"join_room","room_id":"a"}`)))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	assert.True(t, c.Send([]byte(`{"type":"join_room","room_id":"b"}`)))

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"join_room","room_id":"b"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
	assert.Empty(t, received)
}

func TestOutboundQueueFlushesOnOpen(t *testing.T) {
	received := make(chan string, 4)
	ts := newTestServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
	})

	cfg := testConfig(ts.host())
	cfg.OutboundQueueSize = 2
	c := NewClient("u1", cfg, nil)
	assert.True(t, c.Send([]byte("1")))
	assert.True(t, c.Send([]byte("2")))
	assert.True(t, c.Send([]byte("3")))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("queued frame not flushed")
		}
	}
	assert.Equal(t, []string{"2", "3"}, got)
}

func TestHeartbeatPings(t *testing.T) {
	var pings atomic.Int32
	ts := newTestServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(data string) error {
			pings.Add(1)
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := testConfig(ts.host())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	c := NewClient("u1", cfg, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	require.Eventually(t, func() bool { return pings.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.IsConnected())
}

func TestSilentServerTriggersReconnect(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, func(conn *websocket.Conn) {
		// never read, so pings are never answered
		<-release
	})
	defer close(release)

	clock := &fakeClock{}
	cfg := testConfig(ts.host())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.PongTimeout = 100 * time.Millisecond
	c := NewClient("u1", cfg, nil, WithAfterFunc(clock.AfterFunc))
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, c, StateReconnecting)
	assert.Equal(t, 1, clock.count())
}

func TestDefaultConfigApplied(t *testing.T) {
	c := NewClient("u1", &Config{Host: "example.com", Secure: true}, nil)
	assert.Equal(t, "wss://example.com/ws/u1", c.URL())
	assert.Equal(t, DefaultHeartbeatInterval, c.config.HeartbeatInterval)
	assert.Equal(t, 5, c.config.Retry.MaxAttempts)
}
