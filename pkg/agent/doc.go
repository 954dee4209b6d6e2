// Package agent defines the core conversation model shared by the runtime:
// messages and their parts, tool calls and results, streaming provider
// deltas, run options, and the dynamic Value type used for tool arguments.
//
// The execution loop itself lives in package runner; provider adapters
// implement the Provider interface declared here.
package agent
