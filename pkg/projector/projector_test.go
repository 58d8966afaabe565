package projector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/eventbus"
	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"github.com/code-100-precent/LingClassroom/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeConn struct{ connected atomic.Bool }

func (c *fakeConn) IsConnected() bool { return c.connected.Load() }

type fixture struct {
	bus  *eventbus.EventBus
	conn *fakeConn
	seq  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := eventbus.New(context.Background(), 0)
	t.Cleanup(bus.Close)
	return &fixture{bus: bus, conn: &fakeConn{}}
}

func (f *fixture) newProjector(t *testing.T, initial string, opts Options) *Projector {
	t.Helper()
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.NewScheduler(nil)
	}
	if opts.RefreshLimit == 0 {
		opts.RefreshLimit = time.Nanosecond
	}
	p, err := New([]byte(initial), f.conn, f.bus, opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func (f *fixture) push(t *testing.T, typ protocol.Type, data string) {
	t.Helper()
	f.seq++
	require.NoError(t, f.bus.Publish(protocol.Message{
		Seq:      f.seq,
		Envelope: protocol.Envelope{Type: typ, Data: []byte(data)},
	}))
	require.NoError(t, f.bus.Flush(context.Background()))
}

func TestNew_RejectsNonObject(t *testing.T) {
	f := newFixture(t)
	_, err := New([]byte(`[1,2]`), f.conn, f.bus, Options{Scheduler: scheduler.NewScheduler(nil)})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	p := f.newProjector(t, "", Options{})
	assert.JSONEq(t, `{}`, string(p.Snapshot()))
}

func TestStatsUpdateShallowMerge(t *testing.T) {
	f := newFixture(t)
	p := f.newProjector(t, `{"totalStudents":10,"nested":{"a":1},"keep":true}`, Options{})
	before := p.LastUpdated()
	p.now = func() time.Time { return before.Add(time.Minute) }

	f.push(t, protocol.TypeSystemStatsUpdate, `{"totalStudents":12,"nested":{"b":2},"weird.key":1}`)

	assert.JSONEq(t, `{"totalStudents":12,"nested":{"b":2},"keep":true,"weird.key":1}`, string(p.Snapshot()))
	assert.Equal(t, before.Add(time.Minute), p.LastUpdated())
}

func TestParentLetterGenerated(t *testing.T) {
	f := newFixture(t)
	p := f.newProjector(t, `{"recentLetters":[{"id":1},{"id":2},{"id":3},{"id":4},{"id":5}]}`, Options{})

	f.push(t, protocol.TypeParentLetterGenerating, `{}`)
	assert.True(t, p.IsGenerating())

	f.push(t, protocol.TypeParentLetterGenerated, `{"id":6,"title":"Weekly update"}`)

	ids := []int64{}
	p.Get("recentLetters").ForEach(func(_, v gjson.Result) bool {
		ids = append(ids, v.Get("id").Int())
		return true
	})
	assert.Equal(t, []int64{6, 1, 2, 3, 4}, ids)
	assert.Equal(t, int64(1), p.Get("totalLetters").Int())
	assert.False(t, p.IsGenerating())

	f.push(t, protocol.TypeParentLetterGenerated, `{"id":7}`)
	letters := p.Letters()
	require.Len(t, letters, 2)
	assert.JSONEq(t, `{"id":7}`, string(letters[0]))
	assert.Equal(t, int64(2), p.Get("totalLetters").Int())
}

func TestUnrelatedTypesIgnored(t *testing.T) {
	f := newFixture(t)
	p := f.newProjector(t, `{"totalStudents":1}`, Options{})
	f.push(t, protocol.TypeNewMessage, `{"room_id":"r","message":"hi"}`)
	f.push(t, protocol.Type("mystery"), `{"totalStudents":99}`)
	assert.JSONEq(t, `{"totalStudents":1}`, string(p.Snapshot()))
}

func TestTick(t *testing.T) {
	initial := `{"totalStudents":100,"activeSessions":2,"systemHealth":99.5}`

	t.Run("connected is a no-op", func(t *testing.T) {
		f := newFixture(t)
		f.conn.connected.Store(true)
		p := f.newProjector(t, initial, Options{Simulate: true})
		p.Tick()
		assert.JSONEq(t, initial, string(p.Snapshot()))
	})

	t.Run("simulation disabled is a no-op", func(t *testing.T) {
		f := newFixture(t)
		p := f.newProjector(t, initial, Options{})
		p.Tick()
		assert.JSONEq(t, initial, string(p.Snapshot()))
	})

	t.Run("offline perturbation upper bound", func(t *testing.T) {
		f := newFixture(t)
		p := f.newProjector(t, initial, Options{
			Simulate: true,
			Intn:     func(n int) int { return n - 1 },
			Float:    func() float64 { return 0.99 },
		})
		p.Tick()
		assert.Equal(t, int64(102), p.Get("totalStudents").Int())
		assert.Equal(t, int64(6), p.Get("activeSessions").Int())
		assert.Equal(t, 100.0, p.Get("systemHealth").Float())
	})

	t.Run("offline perturbation lower bound", func(t *testing.T) {
		f := newFixture(t)
		p := f.newProjector(t, `{"totalStudents":100,"activeSessions":2,"systemHealth":95.2}`, Options{
			Simulate: true,
			Intn:     func(int) int { return 0 },
			Float:    func() float64 { return 0 },
		})
		p.Tick()
		assert.Equal(t, int64(100), p.Get("totalStudents").Int())
		assert.Equal(t, int64(0), p.Get("activeSessions").Int())
		assert.Equal(t, 95.0, p.Get("systemHealth").Float())
	})

	t.Run("missing fields are left alone", func(t *testing.T) {
		f := newFixture(t)
		p := f.newProjector(t, `{"other":"x"}`, Options{Simulate: true})
		p.Tick()
		assert.JSONEq(t, `{"other":"x"}`, string(p.Snapshot()))
	})
}

func TestScheduledTick(t *testing.T) {
	f := newFixture(t)
	sched := scheduler.NewScheduler(nil)
	sched.Start()
	defer sched.Stop()

	p := f.newProjector(t, `{"totalStudents":0}`, Options{
		Simulate:  true,
		Interval:  time.Second,
		Scheduler: sched,
		Intn:      func(int) int { return 1 },
	})
	assert.Eventually(t, func() bool {
		return p.Get("totalStudents").Int() > 0
	}, 3*time.Second, 50*time.Millisecond)

	p.Close()
	assert.Empty(t, sched.ListTasks())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	p := f.newProjector(t, `{"a":1,"b":2}`, Options{})
	require.NoError(t, p.Update([]byte(`{"b":3,"c":4}`)))
	assert.JSONEq(t, `{"a":1,"b":3,"c":4}`, string(p.Snapshot()))
	assert.ErrorIs(t, p.Update([]byte(`nope`)), ErrInvalidSnapshot)
}

func TestOnChange(t *testing.T) {
	f := newFixture(t)
	p := f.newProjector(t, `{}`, Options{})
	var got []string
	p.OnChange(func(snapshot []byte) { got = append(got, string(snapshot)) })
	p.OnChange(func([]byte) { panic("listener bug") })

	require.NoError(t, p.Update([]byte(`{"x":1}`)))
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"x":1}`, got[0])
}

func TestRefresh(t *testing.T) {
	t.Run("replaces wholesale", func(t *testing.T) {
		f := newFixture(t)
		var p *Projector
		var sawLoading atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, StatsPath, r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			sawLoading.Store(p.IsLoading())
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"totalStudents":42}`))
		}))
		defer srv.Close()

		p = f.newProjector(t, `{"totalStudents":1,"stale":true}`, Options{APIBaseURL: srv.URL + "/", Token: "secret"})
		assert.True(t, p.Refresh(context.Background()))
		assert.JSONEq(t, `{"totalStudents":42}`, string(p.Snapshot()))
		assert.True(t, sawLoading.Load())
		assert.False(t, p.IsLoading())
	})

	t.Run("failures keep previous snapshot", func(t *testing.T) {
		responses := []struct {
			code int
			body string
		}{
			{http.StatusUnauthorized, `{"error":"no"}`},
			{http.StatusOK, `not json`},
			{http.StatusOK, `[1,2]`},
		}
		for _, resp := range responses {
			f := newFixture(t)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(resp.code)
				_, _ = w.Write([]byte(resp.body))
			}))
			p := f.newProjector(t, `{"totalStudents":1}`, Options{APIBaseURL: srv.URL})
			assert.False(t, p.Refresh(context.Background()))
			assert.JSONEq(t, `{"totalStudents":1}`, string(p.Snapshot()))
			srv.Close()
		}
	})

	t.Run("transport error", func(t *testing.T) {
		f := newFixture(t)
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		p := f.newProjector(t, `{"k":1}`, Options{APIBaseURL: srv.URL})
		assert.False(t, p.Refresh(context.Background()))
		assert.JSONEq(t, `{"k":1}`, string(p.Snapshot()))
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t)
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()
		p := f.newProjector(t, `{}`, Options{APIBaseURL: srv.URL, RefreshLimit: time.Hour})
		assert.True(t, p.Refresh(context.Background()))
		assert.False(t, p.Refresh(context.Background()))
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestCloseStopsUpdates(t *testing.T) {
	f := newFixture(t)
	p := f.newProjector(t, `{"a":1}`, Options{Simulate: true})
	p.Close()
	p.Close()
	f.push(t, protocol.TypeSystemStatsUpdate, `{"a":2}`)
	p.Tick()
	assert.JSONEq(t, `{"a":1}`, string(p.Snapshot()))
}
