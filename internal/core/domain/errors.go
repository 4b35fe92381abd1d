package domain

import "errors"

var (
	// ErrOrderExists reports an order id that is already materialized.
	// Redelivered queue messages hit this and are safe to acknowledge.
	ErrOrderExists = errors.New("order already persisted")

	// ErrStockExhausted reports that the authoritative inventory row had no
	// stock left for a conditional decrement.
	ErrStockExhausted = errors.New("no stock left to decrement")
)
