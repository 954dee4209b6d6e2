package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// TraceIDKey is the context key for the trace id.
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the run id.
	RunIDKey ContextKey = "run_id"
	// SessionIDKey is the context key for the session id.
	SessionIDKey ContextKey = "session_id"
)

// WithTraceID adds a trace id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithSessionID adds a session id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetTraceID retrieves the trace id from the context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run id from the context.
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetSessionID retrieves the session id from the context.
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// RunContext prepares a context for one run: it stamps the session id and
// assigns fresh trace and run ids, keeping any trace id the host already
// propagated so runs stay correlated with their callers.
func RunContext(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	if GetRunID(ctx) == "" {
		ctx = WithRunID(ctx, NewRunID())
	}
	return WithSessionID(ctx, sessionID)
}

// LoggerFromContext stamps the context's identifiers onto a logger.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if traceID := GetTraceID(ctx); traceID != "" {
		base = base.With().Str("trace_id", traceID).Logger()
	}
	if runID := GetRunID(ctx); runID != "" {
		base = base.With().Str("run_id", runID).Logger()
	}
	if sessionID := GetSessionID(ctx); sessionID != "" {
		base = base.With().Str("session_id", sessionID).Logger()
	}
	return base
}
