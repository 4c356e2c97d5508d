package store

import (
	"context"
	"sort"
	"sync"

	"github.com/jeeves-cluster-organization/repairkernel/repairengine/envelope"
)

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// MemoryStore is an EnvelopeStore backed by a map. It is the default
// backend for tests and for governor runs that do not need persistence
// across process restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	envelopes map[string]*envelope.Envelope
	locks     *runLocks
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		envelopes: make(map[string]*envelope.Envelope),
		locks:     newRunLocks(),
	}
}

var _ EnvelopeStore = (*MemoryStore)(nil)

// Put stores a deep copy of the envelope keyed by its patch ID.
func (s *MemoryStore) Put(ctx context.Context, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes[env.PatchID] = env.Clone()
	return nil
}

// Get returns a deep copy of the stored envelope, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, patchID string) (*envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envelopes[patchID]
	if !ok {
		return nil, ErrNotFound
	}
	return env.Clone(), nil
}

// List returns up to limit envelopes ordered by most recent creation.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*envelope.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*envelope.Envelope, 0, len(s.envelopes))
	for _, env := range s.envelopes {
		out = append(out, env.Clone())
	}
	s.mu.RUnlock()

	sortByCreatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Acquire takes the single-writer lock for the patch ID.
func (s *MemoryStore) Acquire(patchID string) (func(), error) {
	return s.locks.acquire(patchID)
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// sortByCreatedAt orders envelopes newest first, breaking ties by patch
// ID so listings are deterministic.
func sortByCreatedAt(envs []*envelope.Envelope) {
	sort.Slice(envs, func(i, j int) bool {
		if !envs[i].CreatedAt.Equal(envs[j].CreatedAt) {
			return envs[i].CreatedAt.After(envs[j].CreatedAt)
		}
		return envs[i].PatchID < envs[j].PatchID
	})
}
