// Package store persists repair envelopes and serializes writer access
// to a patch so that at most one governor run mutates an envelope at a
// time.
package store

import (
	"context"
	"errors"

	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when no envelope exists for a patch ID.
	ErrNotFound = errors.New("store: envelope not found")

	// ErrRunInProgress is returned by Acquire when another run already
	// holds the write lock for the patch.
	ErrRunInProgress = errors.New("store: run already in progress for patch")
)

// =============================================================================
// ENVELOPE STORE
// =============================================================================

// EnvelopeStore is the persistence contract used by the governor.
//
// Put and Get operate on deep copies: a stored envelope is never aliased
// by the caller, and repeated Gets for the same patch ID return equal
// snapshots until the next Put.
type EnvelopeStore interface {
	// Put persists the envelope keyed by its patch ID, replacing any
	// previous version.
	Put(ctx context.Context, env *envelope.Envelope) error

	// Get returns the envelope for the patch ID, or ErrNotFound.
	Get(ctx context.Context, patchID string) (*envelope.Envelope, error)

	// List returns up to limit envelopes ordered by most recent creation.
	// A limit <= 0 returns all envelopes.
	List(ctx context.Context, limit int) ([]*envelope.Envelope, error)

	// Acquire takes the single-writer lock for the patch ID. It returns
	// a release function on success, or ErrRunInProgress if a run
	// already holds the lock.
	Acquire(patchID string) (release func(), err error)

	// Close releases any underlying resources.
	Close() error
}
