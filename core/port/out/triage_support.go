package out

import (
	"context"
	"errors"
	"time"
)

// Summarizer produces a short summary of plain text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// ErrLockHeld is returned by JobLocker when another holder owns the key.
var ErrLockHeld = errors.New("lock held by another worker")

// JobLocker guards a periodic job across replicas.
type JobLocker interface {
	// Acquire returns a release func, or ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
