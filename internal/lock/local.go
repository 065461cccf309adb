package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. The TTL is ignored: a lock is held until
// released.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// Acquire takes name if it is free.
func (l *Local) Acquire(_ context.Context, name string, _ time.Duration) (ReleaseFunc, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}
	return release, true, nil
}
