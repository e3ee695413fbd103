package repository

import (
	"context"
	"time"
)

// Locker provides mutual exclusion on a string key, possibly across
// processes. The returned release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
