// Package session persists conversation sessions and their accumulating
// usage metadata.
//
// Invariants:
// - Save is an idempotent upsert keyed by session id.
// - Metadata only accumulates; continuations carry it forward, never reset it.
// - A session has exactly one intended writer at a time (caller invariant).
package session
