// Package projector keeps a dashboard aggregate fresh from three sources:
// pushed envelopes, a periodic tick and an explicit authenticated refresh.
package projector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/circuitbreaker"
	"github.com/code-100-precent/LingClassroom/pkg/eventbus"
	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/metrics"
	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"github.com/code-100-precent/LingClassroom/pkg/scheduler"
	"github.com/code-100-precent/LingClassroom/pkg/utils"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultInterval       = 30 * time.Second
	DefaultRecentWindow   = 5
	DefaultLetterFeedSize = 100
	DefaultRefreshLimit   = time.Second
	StatsPath             = "/api/dashboard/stats"

	maxBodySize = 4 << 20
)

var (
	ErrInvalidSnapshot = errors.New("projector: snapshot must be a JSON object")
	ErrUnexpectedCode  = errors.New("projector: unexpected status code")
)

var tickSeq atomic.Uint64

// Conn reports whether pushed updates are currently flowing.
type Conn interface {
	IsConnected() bool
}

// Options tunes a projector. Zero values select the defaults.
type Options struct {
	Interval     time.Duration
	Simulate     bool
	RecentWindow int
	FeedSize     int

	APIBaseURL   string
	Token        string
	RefreshLimit time.Duration
	HTTPClient   *http.Client
	Breaker      *circuitbreaker.CircuitBreaker

	// Scheduler runs the tick. When nil the projector owns one.
	Scheduler *scheduler.Scheduler
	// Intn returns a value in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int
	// Float returns a value in [0, 1). Defaults to math/rand/v2.
	Float func() float64
}

// Projector is safe for concurrent use.
type Projector struct {
	conn    Conn
	opts    Options
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
	sched   *scheduler.Scheduler
	ownSch  bool
	taskID  string
	sub     *eventbus.Subscription
	now     func() time.Time

	loading atomic.Bool

	mu           sync.Mutex
	snapshot     []byte
	lastUpdated  time.Time
	letters      [][]byte
	isGenerating bool
	listeners    []func([]byte)
	closed       bool
}

// New seeds a projector with initial (a JSON object, or empty for {}),
// subscribes it to bus and schedules its tick.
func New(initial []byte, conn Conn, bus *eventbus.EventBus, opts Options) (*Projector, error) {
	if len(initial) == 0 {
		initial = []byte("{}")
	}
	if !utils.IsJSONObject(initial) {
		return nil, ErrInvalidSnapshot
	}
	opts = withDefaults(opts)

	p := &Projector{
		conn:        conn,
		opts:        opts,
		client:      opts.HTTPClient,
		breaker:     opts.Breaker,
		limiter:     rate.NewLimiter(rate.Every(opts.RefreshLimit), 1),
		sched:       opts.Scheduler,
		now:         time.Now,
		snapshot:    append([]byte(nil), initial...),
		lastUpdated: time.Now(),
	}
	if p.sched == nil {
		p.sched = scheduler.NewScheduler(nil)
		p.ownSch = true
	}

	p.taskID = fmt.Sprintf("projector-tick-%d", tickSeq.Add(1))
	err := p.sched.AddTask(&scheduler.Task{
		ID:       p.taskID,
		Name:     "projector tick",
		Schedule: scheduler.Every(opts.Interval),
		Enabled:  true,
		Handler: func(ctx context.Context) error {
			p.Tick()
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("schedule projector tick: %w", err)
	}
	if p.ownSch {
		p.sched.Start()
	}

	if bus != nil {
		p.sub = bus.Subscribe(p.onMessage,
			protocol.TypeSystemStatsUpdate,
			protocol.TypeParentLetterGenerated,
			protocol.TypeParentLetterGenerating,
		)
	}
	return p, nil
}

func withDefaults(opts Options) Options {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = DefaultRecentWindow
	}
	if opts.FeedSize <= 0 {
		opts.FeedSize = DefaultLetterFeedSize
	}
	if opts.RefreshLimit <= 0 {
		opts.RefreshLimit = DefaultRefreshLimit
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Breaker == nil {
		opts.Breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("dashboard-stats"))
	}
	if opts.Intn == nil {
		opts.Intn = rand.IntN
	}
	if opts.Float == nil {
		opts.Float = rand.Float64
	}
	return opts
}

// Snapshot returns a copy of the aggregate.
func (p *Projector) Snapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.snapshot...)
}

// Get reads one field of the aggregate by gjson path.
func (p *Projector) Get(path string) gjson.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gjson.GetBytes(p.snapshot, path)
}

// LastUpdated is the time of the most recent mutation.
func (p *Projector) LastUpdated() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdated
}

// IsLoading reports whether a refresh is in flight.
func (p *Projector) IsLoading() bool {
	return p.loading.Load()
}

// Letters returns the generated-letter feed, newest first.
func (p *Projector) Letters() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.letters))
	for i, l := range p.letters {
		out[i] = append([]byte(nil), l...)
	}
	return out
}

// IsGenerating reports whether a letter is being generated.
func (p *Projector) IsGenerating() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isGenerating
}

// SetGenerating overrides the generating flag, e.g. when the caller
// starts a generation request itself.
func (p *Projector) SetGenerating(v bool) {
	p.mu.Lock()
	p.isGenerating = v
	p.mu.Unlock()
}

// OnChange registers fn to receive the aggregate after every mutation.
func (p *Projector) OnChange(fn func(snapshot []byte)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Update shallow-merges partial (a JSON object) into the aggregate.
func (p *Projector) Update(partial []byte) error {
	if !utils.IsJSONObject(partial) {
		return ErrInvalidSnapshot
	}
	p.mutate(func(snap []byte) ([]byte, bool) {
		return merge(snap, partial), true
	})
	return nil
}

// Tick applies the offline perturbation when the connection is down and
// simulation is enabled. It is a no-op otherwise.
func (p *Projector) Tick() {
	if !p.opts.Simulate || (p.conn != nil && p.conn.IsConnected()) {
		return
	}
	p.mutate(func(snap []byte) ([]byte, bool) {
		return p.perturb(snap), true
	})
}

// Refresh pulls a fresh aggregate and replaces the local one wholesale.
// Failures are logged and the previous aggregate is kept; the result
// reports whether the aggregate was replaced.
func (p *Projector) Refresh(ctx context.Context) bool {
	if !p.limiter.Allow() {
		metrics.RefreshTotal.WithLabelValues("limited").Inc()
		logger.Debug("dashboard refresh rate limited")
		return false
	}

	p.loading.Store(true)
	defer p.loading.Store(false)

	var fresh []byte
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := p.fetch(ctx)
		if err != nil {
			return err
		}
		fresh = body
		return nil
	})
	if err != nil {
		result := "error"
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			result = "rejected"
		}
		metrics.RefreshTotal.WithLabelValues(result).Inc()
		logger.Warn("failed to refresh dashboard stats", zap.Error(err))
		return false
	}

	p.mutate(func([]byte) ([]byte, bool) {
		return fresh, true
	})
	metrics.RefreshTotal.WithLabelValues("ok").Inc()
	return true
}

func (p *Projector) fetch(ctx context.Context) ([]byte, error) {
	url := strings.TrimRight(p.opts.APIBaseURL, "/") + StatsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.opts.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedCode, resp.StatusCode)
	}
	if !utils.IsJSONObject(body) {
		return nil, ErrInvalidSnapshot
	}
	return body, nil
}

// Close stops the tick and detaches from the bus.
func (p *Projector) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.listeners = nil
	p.mu.Unlock()

	if p.sub != nil {
		p.sub.Unsubscribe()
	}
	if p.ownSch {
		p.sched.Stop()
	} else {
		_ = p.sched.RemoveTask(p.taskID)
	}
}

func (p *Projector) onMessage(_ context.Context, m protocol.Message) error {
	switch m.Type {
	case protocol.TypeSystemStatsUpdate:
		if !utils.IsJSONObject(m.Data) {
			logger.Debug("ignoring non-object stats update", zap.Uint64("seq", m.Seq))
			return nil
		}
		p.mutate(func(snap []byte) ([]byte, bool) {
			return merge(snap, m.Data), true
		})
	case protocol.TypeParentLetterGenerated:
		letter := m.Data
		if !gjson.ValidBytes(letter) {
			letter = []byte("{}")
		}
		p.mutate(func(snap []byte) ([]byte, bool) {
			p.pushLetterLocked(letter)
			return p.recordLetter(snap, letter), true
		})
	case protocol.TypeParentLetterGenerating:
		p.mu.Lock()
		p.isGenerating = true
		p.mu.Unlock()
	}
	return nil
}

// mutate applies fn under the lock, bumps lastUpdated and notifies listeners.
func (p *Projector) mutate(fn func(snap []byte) ([]byte, bool)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	next, changed := fn(p.snapshot)
	if !changed {
		p.mu.Unlock()
		return
	}
	p.snapshot = next
	p.lastUpdated = p.now()
	view := append([]byte(nil), next...)
	listeners := append([]func([]byte){}, p.listeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		_ = utils.SafeCall(func() error {
			l(view)
			return nil
		}, func(err error) {
			logger.Error("projector listener panicked", zap.Error(err))
		})
	}
}

func (p *Projector) pushLetterLocked(letter []byte) {
	feed := make([][]byte, 0, len(p.letters)+1)
	feed = append(feed, append([]byte(nil), letter...))
	feed = append(feed, p.letters...)
	if len(feed) > p.opts.FeedSize {
		feed = feed[:p.opts.FeedSize]
	}
	p.letters = feed
	p.isGenerating = false
}

func (p *Projector) recordLetter(snap, letter []byte) []byte {
	out, err := utils.PrependJSON(snap, "recentLetters", letter, p.opts.RecentWindow)
	if err != nil {
		logger.Warn("failed to record letter", zap.Error(err))
		out = snap
	}
	return set(out, "totalLetters", gjson.GetBytes(snap, "totalLetters").Int()+1)
}

func (p *Projector) perturb(snap []byte) []byte {
	if v := gjson.GetBytes(snap, "totalStudents"); v.Type == gjson.Number {
		snap = set(snap, "totalStudents", v.Int()+int64(p.opts.Intn(3)))
	}
	if v := gjson.GetBytes(snap, "activeSessions"); v.Type == gjson.Number {
		snap = set(snap, "activeSessions", max(0, v.Int()+int64(p.opts.Intn(10))-5))
	}
	if v := gjson.GetBytes(snap, "systemHealth"); v.Type == gjson.Number {
		snap = set(snap, "systemHealth", utils.Clamp(v.Float()+(p.opts.Float()-0.5)*2, 95, 100))
	}
	return snap
}

func merge(snap, partial []byte) []byte {
	out, err := utils.MergeJSON(snap, partial)
	if err != nil {
		logger.Warn("failed to merge snapshot", zap.Error(err))
		return snap
	}
	return out
}

func set(snap []byte, path string, value interface{}) []byte {
	out, err := sjson.SetBytes(snap, path, value)
	if err != nil {
		logger.Warn("failed to set snapshot field", zap.String("path", path), zap.Error(err))
		return snap
	}
	return out
}
