package port

import (
	"context"

	"github.com/mhdang/seckill/internal/core/domain"
)

type OrderQueue interface {
	// Next blocks up to the queue's read timeout for the next undelivered
	// message. Returns (nil, nil) when the wait times out with no data.
	Next(ctx context.Context, consumer string) (*domain.OrderMessage, error)

	// NextPending returns the oldest message that was delivered to this
	// consumer but never acknowledged, or (nil, nil) when the pending list
	// is empty.
	NextPending(ctx context.Context, consumer string) (*domain.OrderMessage, error)

	// Ack removes the entry from the consumer group's pending list. The
	// underlying log is not truncated.
	Ack(ctx context.Context, entryID string) error
}
