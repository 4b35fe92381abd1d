package domain

import "time"

type Inventory struct {
	ItemID    int64
	Stock     int
	Version   int // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}
