package store

import "sync"

// runLocks tracks which patch IDs currently have an active run.
// Locks are process-local regardless of the backing storage: the
// governor only guards against concurrent runs inside one process.
type runLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRunLocks() *runLocks {
	return &runLocks{active: make(map[string]struct{})}
}

func (l *runLocks) acquire(patchID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.active[patchID]; held {
		return nil, ErrRunInProgress
	}
	l.active[patchID] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, patchID)
			l.mu.Unlock()
		})
	}
	return release, nil
}
