package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. A failed save must surface to the caller: an
// unrecorded run fails loudly rather than silently losing history.
type Store interface {
	// Create persists a new session. Creating an id that already exists is
	// an error.
	Create(ctx context.Context, sess *Session) error

	// Save upserts the full session document keyed by id. Idempotent.
	Save(ctx context.Context, sess *Session) error

	// Load returns the stored session or ErrNotFound.
	Load(ctx context.Context, id string) (*Session, error)

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns summaries of every stored session, most recently
	// updated first.
	List(ctx context.Context) ([]Summary, error)
}
