package runner

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visor-agent/visor/pkg/agent"
	"github.com/visor-agent/visor/pkg/events"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]events.Kind, len(r.events))
	for i, evt := range r.events {
		kinds[i] = evt.Kind
	}
	return kinds
}

func (r *eventRecorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

func streamOf(deltas ...agent.Delta) <-chan agent.Delta {
	ch := make(chan agent.Delta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch
}

func toolCallDelta(id, name string, args agent.Value) agent.Delta {
	return agent.Delta{Type: agent.DeltaToolCall, ToolCall: &agent.ToolCall{ID: id, Name: name, Args: args}}
}

func TestCollectTurn_Text(t *testing.T) {
	rec := &eventRecorder{}
	bus := events.NewBus(rec.handle, zerolog.Nop())

	result, err := collectTurn(streamOf(
		agent.Delta{Type: agent.DeltaText, Text: "Hello"},
		agent.Delta{Type: agent.DeltaText, Text: ", world"},
		agent.Delta{Type: agent.DeltaDone, Usage: &agent.Usage{InputTokens: 12, OutputTokens: 4}},
	), bus, "sess-1", 0)
	bus.Close()

	require.NoError(t, err)
	assert.Equal(t, "Hello, world", result.Text)
	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, 12, result.Usage.InputTokens)
	assert.Equal(t, 4, result.Usage.OutputTokens)
}

func TestCollectTurn_MergesToolCallFragments(t *testing.T) {
	rec := &eventRecorder{}
	bus := events.NewBus(rec.handle, zerolog.Nop())

	partial := agent.Object(map[string]agent.Value{"selector": agent.String("#sa")})
	full := agent.Object(map[string]agent.Value{"selector": agent.String("#save")})

	result, err := collectTurn(streamOf(
		toolCallDelta("call_1", "click", partial),
		toolCallDelta("call_2", "scroll", agent.Null()),
		toolCallDelta("call_1", "click", full),
		agent.Delta{Type: agent.DeltaDone},
	), bus, "sess-1", 0)
	bus.Close()

	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 2)

	// First-seen order, last fragment wins.
	assert.Equal(t, "call_1", result.ToolCalls[0].ID)
	assert.Equal(t, "call_2", result.ToolCalls[1].ID)
	assert.Equal(t, "#save", result.ToolCalls[0].Args.StringField("selector", ""))

	kinds := rec.kinds()
	assert.Equal(t, []events.Kind{
		events.KindToolCallStarted,
		events.KindToolCallStarted,
		events.KindToolCallUpdated,
	}, kinds)
}

func TestCollectTurn_StreamError(t *testing.T) {
	bus := events.NewBus(nil, zerolog.Nop())
	defer bus.Close()

	_, err := collectTurn(streamOf(
		agent.Delta{Type: agent.DeltaText, Text: "partial"},
		agent.Delta{Type: agent.DeltaError, Err: errors.New("connection reset")},
	), bus, "sess-1", 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCollectTurn_ReasoningDeltas(t *testing.T) {
	rec := &eventRecorder{}
	bus := events.NewBus(rec.handle, zerolog.Nop())

	result, err := collectTurn(streamOf(
		agent.Delta{Type: agent.DeltaReasoning, Text: "Considering the layout."},
		agent.Delta{Type: agent.DeltaText, Text: "Clicking now."},
		agent.Delta{Type: agent.DeltaDone},
	), bus, "sess-1", 2)
	bus.Close()

	require.NoError(t, err)
	assert.Equal(t, "Considering the layout.", result.Reasoning)
	assert.Equal(t, "Clicking now.", result.Text)

	kinds := rec.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, events.KindThinkingMessage, kinds[0])
	assert.Equal(t, events.KindAssistantMessage, kinds[1])
}

func TestLooksLikeThinking(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		thinking bool
	}{
		{"plan prefix", "Let me check the current page first.", true},
		{"intent prefix", "I need to find the Save button.", true},
		{"plain answer", "The form was submitted successfully.", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.thinking, looksLikeThinking(tt.text))
		})
	}
}
