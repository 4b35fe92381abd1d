package port

import "context"

type IDGenerator interface {
	// NextID mints a 63-bit, roughly time-ordered identifier for prefix.
	NextID(ctx context.Context, prefix string) (uint64, error)
}
