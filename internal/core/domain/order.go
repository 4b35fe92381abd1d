package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID        uint64
	UserID    int64
	ItemID    int64
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderMessage is the wire form of an admitted order while it sits in the
// durable stream, between admission and acknowledgment. EntryID is the
// stream entry id and is required to ack the message.
type OrderMessage struct {
	EntryID    string
	OrderID    uint64
	UserID     int64
	ItemID     int64
	EnqueuedAt time.Time
}
