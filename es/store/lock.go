package store

import "context"

// ExclusiveLock is a session-scoped advisory lock keyed by a
// subscription's internal numeric id. Holding the lock is the right to
// deliver events for that subscription; losing the underlying session
// releases it.
type ExclusiveLock interface {
	// TryAcquire attempts to acquire the lock for id without blocking.
	// The returned Held must be released (or its session closed) to free
	// the lock. ok is false if another session already holds it.
	TryAcquire(ctx context.Context, id int64) (held Held, ok bool, err error)
}

// Held represents a currently-held advisory lock. Release gives it up;
// Lost reports whether the underlying session has already been
// disconnected, in which case the lock was released implicitly and the
// holder must terminate.
type Held interface {
	Release(ctx context.Context) error
	Lost() <-chan struct{}
}
