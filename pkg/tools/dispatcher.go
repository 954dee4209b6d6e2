package tools

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/visor-agent/visor/internal/redact"
	"github.com/visor-agent/visor/internal/tracing"
	"github.com/visor-agent/visor/pkg/agent"
	"github.com/visor-agent/visor/pkg/events"
	"github.com/visor-agent/visor/pkg/verify"
	"go.opentelemetry.io/otel/attribute"
)

// previewLimit caps the redacted JSON previews attached to events.
const previewLimit = 320

// Dispatcher resolves and executes model-requested tool calls. Tool failures
// become failure results in the transcript so the model can observe and
// recover from them; they never abort the run.
type Dispatcher struct {
	registry *Registry
	gate     *verify.Gate
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher. The gate may be nil when verification
// is disabled.
func NewDispatcher(registry *Registry, gate *verify.Gate, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		gate:     gate,
		logger:   logger,
	}
}

// Dispatch executes calls sequentially, in request order. Tools act on a
// shared surface, so calls are never run concurrently. It returns one result
// per resolved call plus the tool transcript messages, in the same order.
// Calls naming an unknown tool are skipped and produce neither.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []agent.ToolCall, tctx *Context, bus *events.Bus) ([]agent.ToolResult, []agent.Message) {
	results := make([]agent.ToolResult, 0, len(calls))
	messages := make([]agent.Message, 0, len(calls))

	for _, call := range calls {
		result, ok := d.dispatchOne(ctx, call, tctx, bus)
		if !ok {
			continue
		}
		results = append(results, result)
		messages = append(messages, agent.Message{
			Role:      agent.RoleTool,
			Parts:     []agent.Part{{Type: agent.PartToolResult, ToolResult: &result}},
			Timestamp: time.Now(),
		})
	}

	return results, messages
}

func (d *Dispatcher) dispatchOne(ctx context.Context, call agent.ToolCall, tctx *Context, bus *events.Bus) (agent.ToolResult, bool) {
	ctx, span := tracing.StartSpan(
		ctx,
		"visor.tools",
		"tools.dispatch",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, d.logger).With().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Logger()

	def, ok := d.registry.Get(call.Name)
	if !ok {
		// The call is dropped without a transcript entry; the event stream
		// still records the miss for observers.
		logger.Warn().Msg("Unknown tool requested, skipping call")
		bus.Publish(events.Event{
			Kind:      events.KindToolCallCompleted,
			SessionID: tctx.SessionID,
			Turn:      tctx.Turn,
			ToolCall: &events.ToolCallInfo{
				CallID:  call.ID,
				Tool:    call.Name,
				Preview: "unknown tool",
				IsError: true,
			},
		})
		return agent.ToolResult{}, false
	}

	result := d.execute(ctx, def, call, tctx, logger)

	if !result.Failed() && tctx.Verify && d.gate.Required(def.ReadOnly) {
		result = d.verifyWithRetry(ctx, def, call, tctx, result, logger)
	}

	preview := redact.Preview(result.Value, previewLimit)
	if result.Failed() {
		preview = redact.PreviewString(result.Error, previewLimit)
	}
	bus.Publish(events.Event{
		Kind:      events.KindToolCallCompleted,
		SessionID: tctx.SessionID,
		Turn:      tctx.Turn,
		ToolCall: &events.ToolCallInfo{
			CallID:  call.ID,
			Tool:    call.Name,
			Preview: preview,
			IsError: result.Failed(),
		},
	})

	return result, true
}

// execute runs the handler once, validating arguments first. Every failure
// path lands in the failure result variant.
func (d *Dispatcher) execute(ctx context.Context, def *Definition, call agent.ToolCall, tctx *Context, logger zerolog.Logger) agent.ToolResult {
	if err := d.registry.Validate(call.Name, call.Args); err != nil {
		logger.Warn().Err(err).Msg("Tool arguments failed validation")
		return agent.ToolResult{CallID: call.ID, Error: err.Error()}
	}

	start := time.Now()
	value, err := def.Handler(ctx, call.Args, tctx)
	elapsed := time.Since(start)

	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("Tool execution failed")
		return agent.ToolResult{CallID: call.ID, Error: err.Error()}
	}

	logger.Debug().Dur("elapsed", elapsed).Msg("Tool executed")
	return agent.ToolResult{CallID: call.ID, Value: value}
}

// verifyWithRetry confirms the call's visible effect and re-attempts the
// same call (not the whole turn) while the gate recommends it. After the
// bound is exhausted the last result is accepted unverified. The run's
// MaxVerifyTries takes precedence over the gate's configured bound.
func (d *Dispatcher) verifyWithRetry(ctx context.Context, def *Definition, call agent.ToolCall, tctx *Context, result agent.ToolResult, logger zerolog.Logger) agent.ToolResult {
	action := verify.Action{
		Kind:    def.Kind,
		Tool:    call.Name,
		Args:    call.Args,
		Summary: call.Name + " " + redact.Preview(call.Args, previewLimit),
	}

	maxRetries := d.gate.MaxRetries()
	if tctx.MaxVerifyTries > 0 {
		maxRetries = tctx.MaxVerifyTries
	}

	verdict := d.gate.Verify(ctx, action)
	attempt := 0
	for d.gate.ShouldRetry(verdict) && attempt < maxRetries {
		attempt++
		logger.Info().
			Int("attempt", attempt).
			Float64("confidence", verdict.Confidence).
			Str("observation", verdict.Observation).
			Msg("Verification failed, retrying tool call")

		select {
		case <-ctx.Done():
			return result
		case <-time.After(d.gate.RetryDelay()):
		}

		result = d.execute(ctx, def, call, tctx, logger)
		if result.Failed() {
			continue
		}
		verdict = d.gate.Verify(ctx, action)
	}

	if !verdict.Success {
		logger.Debug().
			Float64("confidence", verdict.Confidence).
			Msg("Accepting result unverified")
	}
	return result
}
