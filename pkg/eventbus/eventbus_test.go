package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(seq uint64, t protocol.Type) protocol.Message {
	return protocol.Message{Seq: seq, ReceivedAt: time.Now(), Envelope: protocol.Envelope{Type: t}}
}

func flush(t *testing.T, bus *EventBus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Flush(ctx))
}

func TestEventBus_OrderedDelivery(t *testing.T) {
	bus := New(context.Background(), 4)
	defer bus.Close()

	var mu sync.Mutex
	var a, b []uint64
	bus.Subscribe(func(_ context.Context, m protocol.Message) error {
		mu.Lock()
		a = append(a, m.Seq)
		mu.Unlock()
		return nil
	})
	bus.Subscribe(func(_ context.Context, m protocol.Message) error {
		mu.Lock()
		b = append(b, m.Seq)
		mu.Unlock()
		return nil
	})

	for i := uint64(1); i <= 50; i++ {
		require.NoError(t, bus.Publish(msg(i, protocol.TypeNewMessage)))
	}
	flush(t, bus)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, a, 50)
	for i, seq := range a {
		assert.Equal(t, uint64(i+1), seq)
	}
	assert.Equal(t, a, b)
}

func TestEventBus_TypeFilter(t *testing.T) {
	bus := New(context.Background(), 0)
	defer bus.Close()

	var got []protocol.Type
	bus.Subscribe(func(_ context.Context, m protocol.Message) error {
		got = append(got, m.Type)
		return nil
	}, protocol.TypeSystemStatsUpdate, protocol.TypeParentLetterGenerated)

	_ = bus.Publish(msg(1, protocol.TypeNewMessage))
	_ = bus.Publish(msg(2, protocol.TypeSystemStatsUpdate))
	_ = bus.Publish(msg(3, protocol.TypeParentLetterGenerated))
	flush(t, bus)

	assert.Equal(t, []protocol.Type{protocol.TypeSystemStatsUpdate, protocol.TypeParentLetterGenerated}, got)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(context.Background(), 0)
	defer bus.Close()

	count := 0
	sub := bus.Subscribe(func(context.Context, protocol.Message) error {
		count++
		return nil
	})

	_ = bus.Publish(msg(1, protocol.TypeNewMessage))
	flush(t, bus)
	assert.Equal(t, 1, count)

	sub.Unsubscribe()
	sub.Unsubscribe()
	_ = bus.Publish(msg(2, protocol.TypeNewMessage))
	flush(t, bus)
	assert.Equal(t, 1, count)
}

func TestEventBus_HandlerPanicAndError(t *testing.T) {
	bus := New(context.Background(), 0)
	defer bus.Close()

	bus.Subscribe(func(context.Context, protocol.Message) error { panic("boom") })
	bus.Subscribe(func(context.Context, protocol.Message) error { return errors.New("nope") })
	delivered := 0
	bus.Subscribe(func(context.Context, protocol.Message) error {
		delivered++
		return nil
	})

	_ = bus.Publish(msg(1, protocol.TypeQuizCompleted))
	_ = bus.Publish(msg(2, protocol.TypeQuizCompleted))
	flush(t, bus)
	assert.Equal(t, 2, delivered)
}

func TestEventBus_Closed(t *testing.T) {
	bus := New(context.Background(), 0)
	bus.Close()

	assert.ErrorIs(t, bus.Publish(msg(1, protocol.TypeNewMessage)), ErrClosed)
	assert.ErrorIs(t, bus.Flush(context.Background()), ErrClosed)
}
