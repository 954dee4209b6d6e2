package runner

import (
	"fmt"
	"strings"

	"github.com/visor-agent/visor/internal/redact"
	"github.com/visor-agent/visor/pkg/agent"
	"github.com/visor-agent/visor/pkg/events"
)

// previewLimit caps the redacted argument previews attached to tool events.
const previewLimit = 320

// TurnResult is one turn's folded stream: its text, the tool calls it
// requested (in first-seen order), and the turn's usage totals.
type TurnResult struct {
	Text      string
	Reasoning string
	ToolCalls []agent.ToolCall
	Usage     agent.Usage
}

// collector folds one turn-bounded delta sequence into a TurnResult while
// forwarding message and tool-call events to the bus.
type collector struct {
	bus       *events.Bus
	sessionID string
	turn      int

	text      strings.Builder
	reasoning strings.Builder
	calls     map[string]agent.ToolCall
	order     []string
	usage     agent.Usage
}

func newCollector(bus *events.Bus, sessionID string, turn int) *collector {
	return &collector{
		bus:       bus,
		sessionID: sessionID,
		turn:      turn,
		calls:     make(map[string]agent.ToolCall),
	}
}

// collectTurn drains the delta channel into a TurnResult. A stream error is
// propagated; the caller decides what survives of the run.
func collectTurn(ch <-chan agent.Delta, bus *events.Bus, sessionID string, turn int) (TurnResult, error) {
	c := newCollector(bus, sessionID, turn)
	for delta := range ch {
		if err := c.consume(delta); err != nil {
			return TurnResult{}, err
		}
	}
	return c.result(), nil
}

func (c *collector) consume(delta agent.Delta) error {
	switch delta.Type {
	case agent.DeltaText:
		c.text.WriteString(delta.Text)
		if strings.TrimSpace(delta.Text) != "" {
			c.bus.Publish(events.Event{
				Kind:      c.messageKind(),
				SessionID: c.sessionID,
				Turn:      c.turn,
				Message:   delta.Text,
			})
		}
	case agent.DeltaReasoning:
		c.reasoning.WriteString(delta.Text)
		if strings.TrimSpace(delta.Text) != "" {
			c.bus.Publish(events.Event{
				Kind:      events.KindThinkingMessage,
				SessionID: c.sessionID,
				Turn:      c.turn,
				Message:   delta.Text,
			})
		}
	case agent.DeltaToolCall:
		if delta.ToolCall != nil {
			c.consumeToolCall(*delta.ToolCall)
		}
	case agent.DeltaDone:
		if delta.Usage != nil {
			c.usage.Add(*delta.Usage)
		}
	case agent.DeltaError:
		if delta.Err != nil {
			return fmt.Errorf("provider stream: %w", delta.Err)
		}
		return fmt.Errorf("provider stream failed")
	}
	return nil
}

// consumeToolCall keeps the latest snapshot per id: the last fragment for an
// id wins. First-vs-later occurrence only selects the event label.
func (c *collector) consumeToolCall(call agent.ToolCall) {
	_, seen := c.calls[call.ID]
	c.calls[call.ID] = call
	if !seen {
		c.order = append(c.order, call.ID)
	}

	kind := events.KindToolCallStarted
	if seen {
		kind = events.KindToolCallUpdated
	}
	c.bus.Publish(events.Event{
		Kind:      kind,
		SessionID: c.sessionID,
		Turn:      c.turn,
		ToolCall: &events.ToolCallInfo{
			CallID:  call.ID,
			Tool:    call.Name,
			Preview: redact.Preview(call.Args, previewLimit),
		},
	})
}

// messageKind classifies accumulated text as thinking or assistant output.
// Providers that stream reasoning inline (rather than as reasoning deltas)
// tend to open with deliberation markers.
func (c *collector) messageKind() events.Kind {
	if looksLikeThinking(c.text.String()) {
		return events.KindThinkingMessage
	}
	return events.KindAssistantMessage
}

var thinkingMarkers = []string{
	"let me ",
	"i need to ",
	"i should ",
	"i'll ",
	"i will ",
	"first, ",
	"thinking:",
	"my plan ",
}

func looksLikeThinking(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, marker := range thinkingMarkers {
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}

func (c *collector) result() TurnResult {
	calls := make([]agent.ToolCall, 0, len(c.order))
	for _, id := range c.order {
		calls = append(calls, c.calls[id])
	}
	return TurnResult{
		Text:      c.text.String(),
		Reasoning: c.reasoning.String(),
		ToolCalls: calls,
		Usage:     c.usage,
	}
}
