package port

import "context"

// AdmissionResult is the outcome of one atomic admission attempt.
type AdmissionResult int

const (
	AdmissionAccepted   AdmissionResult = 0
	AdmissionOutOfStock AdmissionResult = 1
	AdmissionDuplicate  AdmissionResult = 2
)

type AdmissionGate interface {
	// Admit atomically checks the per-item dedupe set and the cached stock,
	// and on success decrements stock, records the user and enqueues the
	// order, all in one round trip. Any store error must be treated by the
	// caller as a rejection, never an admission.
	Admit(ctx context.Context, itemID, userID int64, orderID uint64) (AdmissionResult, error)

	// SeedStock loads the authoritative stock count into the gate's store
	// and resets the item's dedupe set.
	SeedStock(ctx context.Context, itemID int64, stock int) error
}
