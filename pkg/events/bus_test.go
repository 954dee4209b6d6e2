package events

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	bus := NewBus(func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	}, zerolog.Nop())

	bus.Publish(Event{Kind: KindStarted, SessionID: "sess-1"})
	bus.Publish(Event{Kind: KindAssistantMessage, SessionID: "sess-1", Message: "hello"})
	bus.Publish(Event{Kind: KindCompleted, SessionID: "sess-1"})
	bus.Close()

	require.Len(t, got, 3)
	assert.Equal(t, KindStarted, got[0].Kind)
	assert.Equal(t, KindAssistantMessage, got[1].Kind)
	assert.Equal(t, KindCompleted, got[2].Kind)
}

func TestBus_SeqStrictlyIncreases(t *testing.T) {
	var got []Event
	bus := NewBus(func(evt Event) {
		got = append(got, evt)
	}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Kind: KindAssistantMessage})
	}
	bus.Close()

	require.Len(t, got, 10)
	for i, evt := range got {
		assert.Equal(t, int64(i+1), evt.Seq)
		assert.False(t, evt.At.IsZero())
	}
}

func TestBus_CloseDrainsQueuedEvents(t *testing.T) {
	var count int
	bus := NewBus(func(Event) { count++ }, zerolog.Nop())

	for i := 0; i < 100; i++ {
		bus.Publish(Event{Kind: KindAssistantMessage})
	}
	bus.Close()

	assert.Equal(t, 100, count)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	var count int
	bus := NewBus(func(Event) { count++ }, zerolog.Nop())
	bus.Close()

	// Must not panic or block.
	bus.Publish(Event{Kind: KindAssistantMessage})
	assert.Equal(t, 0, count)
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())
	bus.Close()
	bus.Close()
}

func TestBus_NilHandlerDiscards(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())
	bus.Publish(Event{Kind: KindStarted})
	bus.Close()
}

func TestBroadcaster_ClientCount(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop())
	assert.Equal(t, 0, b.ClientCount())

	// Handle with no clients is a no-op.
	b.Handle(Event{Kind: KindStarted, Seq: 1})

	b.Detach("missing")
	assert.Equal(t, 0, b.ClientCount())
}
