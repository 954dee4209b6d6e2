package agent

import (
	"strings"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the shape of a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
	PartImage      PartType = "image"
)

// Part is one ordered content element of a Message.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Image      *Image      `json:"image,omitempty"`
}

// Image is an inline image content part.
type Image struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Message is one transcript entry. A session is an ordered sequence of
// messages; every tool-result part references a tool-call id from a
// preceding assistant message.
type Message struct {
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// TextMessage builds a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Parts:     []Part{{Type: PartText, Text: text}},
		Timestamp: time.Now(),
	}
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool-call parts of the message, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolCall is a model-requested tool invocation. The id is assigned by the
// provider and is opaque to the runtime.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args Value  `json:"args"`
}

// ToolResult is the outcome of exactly one dispatched ToolCall. The success
// variant carries an opaque value; the failure variant carries a message.
type ToolResult struct {
	CallID string `json:"call_id"`
	Value  Value  `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the result is the failure variant.
func (r ToolResult) Failed() bool { return r.Error != "" }

// Text renders the result for transcript content.
func (r ToolResult) Text() string {
	if r.Failed() {
		return "error: " + r.Error
	}
	return r.Value.Text()
}

// GenerationStep is the audit-trail record of one turn: the turn's text, the
// tool calls it requested, and their results.
type GenerationStep struct {
	Turn      int          `json:"turn"`
	Text      string       `json:"text,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
	Results   []ToolResult `json:"results,omitempty"`
}

// Usage counts tokens and cost for one provider exchange.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost,omitempty"`
}

// Add accumulates another usage record.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.Cost += other.Cost
}

// StopReason is the terminal state of a run. Callers must branch on it:
// step-budget exhaustion is not an error, but it is not clean completion
// either.
type StopReason string

const (
	// StopDone means the model stopped requesting tools.
	StopDone StopReason = "done"
	// StopMaxSteps means the turn budget ran out with tool calls pending.
	StopMaxSteps StopReason = "max_steps"
)

// RunResult is the outcome of one Execute or ContinueSession call.
type RunResult struct {
	SessionID     string           `json:"session_id"`
	Text          string           `json:"text"`
	Messages      []Message        `json:"messages"`
	Steps         []GenerationStep `json:"steps"`
	Usage         Usage            `json:"usage"`
	ToolCallCount int              `json:"tool_call_count"`
	Stop          StopReason       `json:"stop"`
}

// Done reports clean completion (the model stopped on its own).
func (r *RunResult) Done() bool { return r.Stop == StopDone }

// QueuePolicy controls how queued follow-up user messages are injected
// between turns.
type QueuePolicy string

const (
	// QueueAll appends every queued message before the next turn's request.
	QueueAll QueuePolicy = "all"
	// QueueOneAtATime appends at most one queued message per turn.
	QueueOneAtATime QueuePolicy = "one-at-a-time"
)

// Options is the immutable per-run configuration. The loop consults it and
// never mutates it.
type Options struct {
	MaxSteps       int         `json:"max_steps"`
	Verify         bool        `json:"verify"`
	MaxVerifyTries int         `json:"max_verify_retries"`
	QueuePolicy    QueuePolicy `json:"queue_policy"`
}

// DefaultOptions returns the option set used when the caller passes a zero
// Options value.
func DefaultOptions() Options {
	return Options{
		MaxSteps:       20,
		Verify:         false,
		MaxVerifyTries: 2,
		QueuePolicy:    QueueAll,
	}
}

// Settings holds per-request model generation parameters.
type Settings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}
