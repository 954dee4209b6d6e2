// Package events carries run lifecycle events from the execution loop to a
// host observer over an ordered, single-consumer channel.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindStarted           Kind = "started"
	KindAssistantMessage  Kind = "assistant_message"
	KindThinkingMessage   Kind = "thinking_message"
	KindToolCallStarted   Kind = "tool_call_started"
	KindToolCallUpdated   Kind = "tool_call_updated"
	KindToolCallCompleted Kind = "tool_call_completed"
	KindCompleted         Kind = "completed"
)

// ToolCallInfo is the event payload for tool-call events. Preview is already
// redacted and length-capped by the producer.
type ToolCallInfo struct {
	CallID  string `json:"call_id"`
	Tool    string `json:"tool"`
	Preview string `json:"preview,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Summary is the payload for the completed event.
type Summary struct {
	Text          string  `json:"text"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	Cost          float64 `json:"cost,omitempty"`
	ToolCallCount int     `json:"tool_call_count"`
	Stop          string  `json:"stop"`
}

// Event is one lifecycle notification. Seq is assigned at publish time and is
// strictly increasing per bus.
type Event struct {
	Kind      Kind          `json:"kind"`
	SessionID string        `json:"session_id"`
	Turn      int           `json:"turn,omitempty"`
	Message   string        `json:"message,omitempty"`
	ToolCall  *ToolCallInfo `json:"tool_call,omitempty"`
	Summary   *Summary      `json:"summary,omitempty"`
	Seq       int64         `json:"seq"`
	At        time.Time     `json:"at"`
}

// Handler consumes events in submission order.
type Handler func(Event)

// Bus decouples event production from delivery. Producers publish without
// waiting for the handler; one consumer goroutine delivers events in
// submission order. Close tears the consumer down and must run regardless of
// how the owning run ends.
type Bus struct {
	ch      chan Event
	done    chan struct{}
	handler Handler
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	seq    atomic.Int64
}

const defaultBuffer = 256

// NewBus starts the consumer goroutine. A nil handler yields a bus that
// discards events, which keeps call sites free of nil checks.
func NewBus(handler Handler, logger zerolog.Logger) *Bus {
	b := &Bus{
		ch:      make(chan Event, defaultBuffer),
		done:    make(chan struct{}),
		handler: handler,
		logger:  logger,
	}
	go b.consume()
	return b
}

func (b *Bus) consume() {
	defer close(b.done)
	for evt := range b.ch {
		if b.handler != nil {
			b.handler(evt)
		}
	}
}

// Publish enqueues an event. Events published after Close are dropped.
func (b *Bus) Publish(evt Event) {
	evt.Seq = b.seq.Add(1)
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Debug().Str("kind", string(evt.Kind)).Msg("Event dropped after bus close")
		return
	}
	b.ch <- evt
}

// Close stops intake, waits for queued events to drain, and stops the
// consumer. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	<-b.done
}
