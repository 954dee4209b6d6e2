package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/visor-agent/visor/internal/tracing"
	"github.com/visor-agent/visor/pkg/agent"
	"github.com/visor-agent/visor/pkg/events"
	"github.com/visor-agent/visor/pkg/session"
	"github.com/visor-agent/visor/pkg/tools"
	"github.com/visor-agent/visor/pkg/verify"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultSystemPrompt = "You are a UI automation agent. Use the available tools to carry out the user's task on screen, then report the outcome."

// Config holds runner dependencies.
type Config struct {
	Provider agent.Provider
	Registry *tools.Registry
	Store    session.Store
	Gate     *verify.Gate // nil disables verification
	Sink     events.Handler
	Logger   zerolog.Logger
}

// Runner drives the step-wise execution loop. One Runner may serve many
// sessions, but a given session id must never have two concurrent runs.
type Runner struct {
	provider   agent.Provider
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	store      session.Store
	sink       events.Handler
	logger     zerolog.Logger

	queueMu sync.Mutex
	queued  map[string][]string
}

// NewRunner validates dependencies and builds a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	return &Runner{
		provider:   cfg.Provider,
		registry:   cfg.Registry,
		dispatcher: tools.NewDispatcher(cfg.Registry, cfg.Gate, cfg.Logger),
		store:      cfg.Store,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		queued:     make(map[string][]string),
	}, nil
}

// RunParams describes one fresh task.
type RunParams struct {
	SessionID string // generated when empty
	System    string // system prompt, defaulted when empty
	Task      string // the user's task
	Settings  agent.Settings
	Options   agent.Options
}

// QueueUserMessage enqueues a follow-up user message for injection between
// turns, per the run's queue policy. Safe for concurrent host use.
func (r *Runner) QueueUserMessage(sessionID, text string) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	r.queued[sessionID] = append(r.queued[sessionID], text)
}

func (r *Runner) popQueued(sessionID string, policy agent.QueuePolicy) []string {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	pending := r.queued[sessionID]
	if len(pending) == 0 {
		return nil
	}

	if policy == agent.QueueOneAtATime {
		head := pending[0]
		r.queued[sessionID] = pending[1:]
		return []string{head}
	}

	delete(r.queued, sessionID)
	return pending
}

// Execute starts a new session seeded with system and user messages and runs
// the loop to a terminal state.
func (r *Runner) Execute(ctx context.Context, params RunParams) (*agent.RunResult, error) {
	if err := r.validate(params.Settings, params.Options); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if params.Task == "" {
		return nil, fmt.Errorf("task cannot be empty")
	}
	if params.SessionID == "" {
		params.SessionID = uuid.New().String()
	}
	system := params.System
	if system == "" {
		system = defaultSystemPrompt
	}

	seed := []agent.Message{
		agent.TextMessage(agent.RoleSystem, system),
		agent.TextMessage(agent.RoleUser, params.Task),
	}
	sess := session.New(params.SessionID, params.Settings.Model, seed)
	if err := r.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return r.run(ctx, sess, params.Settings, params.Options)
}

// ContinueSession reloads a session, appends a new user message, and opens a
// fresh execution window. Metadata keeps accumulating across continuations.
func (r *Runner) ContinueSession(ctx context.Context, sessionID, prompt string, settings agent.Settings, opts agent.Options) (*agent.RunResult, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	sess, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if settings.Model == "" {
		settings.Model = sess.Model
	}
	if err := r.validate(settings, opts); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sess.Append(agent.TextMessage(agent.RoleUser, prompt))
	return r.run(ctx, sess, settings, opts)
}

func (r *Runner) validate(settings agent.Settings, opts agent.Options) error {
	if settings.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if settings.Temperature < 0 || settings.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if settings.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if opts.MaxSteps < 0 {
		return fmt.Errorf("max steps cannot be negative")
	}
	if opts.MaxVerifyTries < 0 {
		return fmt.Errorf("max verification retries cannot be negative")
	}
	return nil
}

// run executes the loop to a terminal state. The event bus is torn down in a
// defer so no consumer task outlives the run, however it ends.
func (r *Runner) run(ctx context.Context, sess *session.Session, settings agent.Settings, opts agent.Options) (*agent.RunResult, error) {
	if opts.MaxSteps == 0 {
		opts = withDefaults(opts)
	}
	ctx = tracing.RunContext(ctx, sess.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"visor.agent",
		"agent.run",
		attribute.String("session_id", sess.ID),
		attribute.String("model", settings.Model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("session_id", sess.ID).Logger()

	bus := events.NewBus(r.sink, logger)
	defer bus.Close()

	bus.Publish(events.Event{
		Kind:      events.KindStarted,
		SessionID: sess.ID,
	})

	sess.Metadata.Status = "running"

	var (
		steps         []agent.GenerationStep
		texts         []string
		totalUsage    agent.Usage
		toolCallCount int
		stop          agent.StopReason
	)

	schemas := r.registry.Schemas()

	for turn := 0; turn < opts.MaxSteps; turn++ {
		turnStart := time.Now()

		stream, err := r.provider.Stream(ctx, sess.Messages, schemas, settings)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("provider stream: %w", err)
		}

		turnRes, err := collectTurn(stream, bus, sess.ID, turn)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		totalUsage.Add(turnRes.Usage)
		if turnRes.Text != "" {
			texts = append(texts, turnRes.Text)
		}

		if len(turnRes.ToolCalls) == 0 {
			// The model stopped requesting tools: record its final text and
			// terminate cleanly.
			sess.Append(agent.TextMessage(agent.RoleAssistant, turnRes.Text))
			steps = append(steps, agent.GenerationStep{Turn: turn, Text: turnRes.Text})
			sess.Metadata.Accumulate(turnRes.Usage, 0, time.Since(turnStart))
			stop = agent.StopDone
			break
		}

		assistant := assistantMessage(turnRes)
		sess.Append(assistant)

		tctx := &tools.Context{
			Messages:       sess.Messages,
			Model:          settings.Model,
			Settings:       settings,
			SessionID:      sess.ID,
			Turn:           turn,
			Verify:         opts.Verify,
			MaxVerifyTries: opts.MaxVerifyTries,
		}
		results, toolMessages := r.dispatcher.Dispatch(ctx, turnRes.ToolCalls, tctx, bus)
		sess.Append(toolMessages...)

		steps = append(steps, agent.GenerationStep{
			Turn:      turn,
			Text:      turnRes.Text,
			ToolCalls: turnRes.ToolCalls,
			Results:   results,
		})
		toolCallCount += len(turnRes.ToolCalls)

		for _, queued := range r.popQueued(sess.ID, opts.QueuePolicy) {
			sess.Append(agent.TextMessage(agent.RoleUser, queued))
		}

		sess.Metadata.Accumulate(turnRes.Usage, len(turnRes.ToolCalls), time.Since(turnStart))

		// Checkpoint: the last completed turn is what survives a crash.
		if err := r.store.Save(ctx, sess); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("save session: %w", err)
		}

		logger.Debug().
			Int("turn", turn).
			Int("tool_calls", len(turnRes.ToolCalls)).
			Msg("Turn completed")
	}

	// Running out of turns with tool calls still pending is a terminal
	// state, not an error.
	if stop == "" {
		stop = agent.StopMaxSteps
		logger.Info().Int("max_steps", opts.MaxSteps).Msg("Step budget exhausted")
	}

	sess.Metadata.Status = string(stop)
	if err := r.store.Save(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("save session: %w", err)
	}

	finalText := strings.Join(texts, "\n")
	bus.Publish(events.Event{
		Kind:      events.KindCompleted,
		SessionID: sess.ID,
		Summary: &events.Summary{
			Text:          finalText,
			InputTokens:   totalUsage.InputTokens,
			OutputTokens:  totalUsage.OutputTokens,
			Cost:          totalUsage.Cost,
			ToolCallCount: toolCallCount,
			Stop:          string(stop),
		},
	})

	messages := make([]agent.Message, len(sess.Messages))
	copy(messages, sess.Messages)

	return &agent.RunResult{
		SessionID:     sess.ID,
		Text:          finalText,
		Messages:      messages,
		Steps:         steps,
		Usage:         totalUsage,
		ToolCallCount: toolCallCount,
		Stop:          stop,
	}, nil
}

// assistantMessage builds the transcript message for a tool-requesting turn:
// its text, then one tool-call part per requested call, in request order.
func assistantMessage(turnRes TurnResult) agent.Message {
	parts := make([]agent.Part, 0, len(turnRes.ToolCalls)+1)
	if turnRes.Text != "" {
		parts = append(parts, agent.Part{Type: agent.PartText, Text: turnRes.Text})
	}
	for i := range turnRes.ToolCalls {
		call := turnRes.ToolCalls[i]
		parts = append(parts, agent.Part{Type: agent.PartToolCall, ToolCall: &call})
	}
	return agent.Message{
		Role:      agent.RoleAssistant,
		Parts:     parts,
		Timestamp: time.Now(),
	}
}

func withDefaults(opts agent.Options) agent.Options {
	def := agent.DefaultOptions()
	if opts.MaxSteps == 0 {
		opts.MaxSteps = def.MaxSteps
	}
	if opts.MaxVerifyTries == 0 {
		opts.MaxVerifyTries = def.MaxVerifyTries
	}
	if opts.QueuePolicy == "" {
		opts.QueuePolicy = def.QueuePolicy
	}
	return opts
}
