package memory

import (
	"context"
	"sync"

	"trade-metrics-lab/internal/storage"
)

// Locker is an in-process implementation of storage.Locker.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocker creates a new in-process locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryLock acquires key without waiting. Returns ErrLockHeld if taken.
func (l *Locker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, storage.ErrLockHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

var _ storage.Locker = (*Locker)(nil)
