// Package runner implements the step-wise execution loop that drives a
// multi-turn exchange with an LLM provider, dispatches requested tool calls,
// and persists the conversation session between turns.
//
// Invariants:
// - Tool calls within a turn execute sequentially, in request order.
// - A session has exactly one writing Runner at a time (caller invariant).
// - Session metadata only accumulates; it is never reset across continuations.
// - Options are read-only per-run configuration: the loop threads the run's
//   verification settings into every dispatch, so one gate-equipped Runner can
//   serve runs with verification on or off.
//
// Usage:
//
//	r, _ := runner.NewRunner(runner.Config{...})
//	result, _ := r.Execute(ctx, runner.RunParams{
//		Task:     "click the Save button",
//		Settings: agent.Settings{Model: "claude-sonnet-4"},
//		Options:  agent.DefaultOptions(),
//	})
//	_ = result
package runner
