package agent

import (
	"context"
	"encoding/json"
)

// DeltaType identifies an incremental unit of streamed provider output.
type DeltaType string

const (
	DeltaText      DeltaType = "text"
	DeltaToolCall  DeltaType = "tool_call"
	DeltaReasoning DeltaType = "reasoning"
	DeltaDone      DeltaType = "done"
	DeltaError     DeltaType = "error"
)

// Delta is one streamed fragment of a turn. Tool-call fragments for the same
// id supersede each other; the done fragment carries the turn's usage totals.
type Delta struct {
	Type     DeltaType
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
	Err      error
}

// ToolSchema describes one tool to the provider.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Provider is the model backend boundary. Implementations own transport,
// authentication, and wire formats; the runtime only sees deltas.
type Provider interface {
	// Stream sends the full message history plus tool schemas and returns a
	// channel of incremental deltas. The channel is closed after the done or
	// error delta. Stream errors that occur before any delta are returned
	// directly.
	Stream(ctx context.Context, messages []Message, tools []ToolSchema, settings Settings) (<-chan Delta, error)

	// Name returns the provider name.
	Name() string
}
