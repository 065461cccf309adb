// Package lock provides named, non-blocking mutual exclusion for the
// reconciler. Local serializes runs within one process; Redis extends the
// guarantee across replicas sharing a Redis instance.
package lock

import (
	"context"
	"time"
)

// ReleaseFunc releases a held lock. It is safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

// Locker acquires named locks without waiting. ok is false when another
// holder owns name; err reports backend failures only.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
}
