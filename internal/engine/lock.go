package engine

import "sync"

// runLocks enforces at-most-one active extraction run per entity id within
// this process. Acquisition is fail-fast: a second caller gets
// ErrAlreadyRunning instead of blocking, since the correct reaction to a
// concurrent start is to reject it, not queue it.
type runLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRunLocks() *runLocks {
	return &runLocks{active: make(map[string]struct{})}
}

func (l *runLocks) acquire(entityID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[entityID]; held {
		return ErrAlreadyRunning
	}
	l.active[entityID] = struct{}{}
	return nil
}

func (l *runLocks) release(entityID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, entityID)
}

// held reports whether a run is active for the entity.
func (l *runLocks) held(entityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[entityID]
	return ok
}
