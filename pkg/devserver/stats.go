package devserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/code-100-precent/LingClassroom/pkg/cache"
	"github.com/code-100-precent/LingClassroom/pkg/utils"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const statsKey = "dashboard:stats"

// DefaultStats seeds a fresh store.
var DefaultStats = []byte(`{"totalStudents":120,"activeSessions":14,"systemHealth":99.2,"totalLetters":0,"recentLetters":[]}`)

var ErrStatsCorrupt = errors.New("devserver: stored stats are not a JSON object")

// StatsStore keeps the dashboard aggregate in a cache backend so several
// server processes can share it through redis.
type StatsStore struct {
	cache   cache.Cache
	initial []byte
	window  int
	mu      sync.Mutex
}

// NewStatsStore seeds the store with initial unless a value already exists.
func NewStatsStore(ctx context.Context, c cache.Cache, initial []byte, window int) (*StatsStore, error) {
	if len(initial) == 0 {
		initial = DefaultStats
	}
	if !utils.IsJSONObject(initial) {
		return nil, utils.ErrNotObject
	}
	if window <= 0 {
		window = 5
	}
	s := &StatsStore{cache: c, initial: append([]byte(nil), initial...), window: window}
	if !c.Exists(ctx, statsKey) {
		if err := c.Set(ctx, statsKey, string(initial), 0); err != nil {
			return nil, fmt.Errorf("seed stats: %w", err)
		}
	}
	return s, nil
}

// Get returns the current aggregate, or the seed when the entry expired.
func (s *StatsStore) Get(ctx context.Context) ([]byte, error) {
	v, ok := s.cache.Get(ctx, statsKey)
	if !ok {
		return append([]byte(nil), s.initial...), nil
	}
	var raw []byte
	switch t := v.(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		return nil, ErrStatsCorrupt
	}
	if !utils.IsJSONObject(raw) {
		return nil, ErrStatsCorrupt
	}
	return raw, nil
}

// Merge shallow-merges partial and returns the new aggregate.
func (s *StatsStore) Merge(ctx context.Context, partial []byte) ([]byte, error) {
	return s.update(ctx, func(cur []byte) ([]byte, error) {
		return utils.MergeJSON(cur, partial)
	})
}

// RecordLetter prepends letter to recentLetters and bumps totalLetters.
func (s *StatsStore) RecordLetter(ctx context.Context, letter []byte) ([]byte, error) {
	return s.update(ctx, func(cur []byte) ([]byte, error) {
		out, err := utils.PrependJSON(cur, "recentLetters", letter, s.window)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(out, "totalLetters", gjson.GetBytes(cur, "totalLetters").Int()+1)
	})
}

func (s *StatsStore) update(ctx context.Context, fn func([]byte) ([]byte, error)) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, statsKey, string(next), 0); err != nil {
		return nil, err
	}
	return next, nil
}
