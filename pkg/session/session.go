package session

import (
	"time"

	"github.com/visor-agent/visor/pkg/agent"
)

// Metadata is the rolling usage record of a session. Every field accumulates
// across runs and continuations.
type Metadata struct {
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	Cost          float64       `json:"cost"`
	ToolCallCount int           `json:"tool_call_count"`
	Duration      time.Duration `json:"duration_ns"`
	Status        string        `json:"status,omitempty"`
}

// Accumulate folds one run's totals into the metadata.
func (m *Metadata) Accumulate(usage agent.Usage, toolCalls int, elapsed time.Duration) {
	m.InputTokens += usage.InputTokens
	m.OutputTokens += usage.OutputTokens
	m.Cost += usage.Cost
	m.ToolCallCount += toolCalls
	m.Duration += elapsed
}

// Session is the durable record of one logical task: its full message
// history plus rolling metadata.
type Session struct {
	ID        string          `json:"id"`
	Model     string          `json:"model"`
	Messages  []agent.Message `json:"messages"`
	Metadata  Metadata        `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New creates a session seeded with the given messages and zeroed metadata.
func New(id, model string, seed []agent.Message) *Session {
	now := time.Now()
	messages := make([]agent.Message, len(seed))
	copy(messages, seed)
	return &Session{
		ID:        id,
		Model:     model,
		Messages:  messages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds messages to the history and bumps the update time.
func (s *Session) Append(messages ...agent.Message) {
	s.Messages = append(s.Messages, messages...)
	s.UpdatedAt = time.Now()
}

// Summary is a housekeeping view of a stored session.
type Summary struct {
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	MessageCount  int       `json:"message_count"`
	ToolCallCount int       `json:"tool_call_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Session) summary() Summary {
	return Summary{
		ID:            s.ID,
		Model:         s.Model,
		MessageCount:  len(s.Messages),
		ToolCallCount: s.Metadata.ToolCallCount,
		UpdatedAt:     s.UpdatedAt,
	}
}
