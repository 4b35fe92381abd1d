package port

import (
	"context"
	"time"
)

// Lock is a single-holder mutual-exclusion handle over the shared store.
// A false TryLock is the normal "busy" signal, not an error; retry policy
// belongs to the caller. The TTL is the only protection against a holder
// that crashes mid-critical-section.
type Lock interface {
	TryLock(ctx context.Context, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context) error
}

// LockProvider mints locks bound to a logical name.
type LockProvider interface {
	NewLock(name string) Lock
}
