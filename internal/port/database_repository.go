package port

import (
	"context"

	"github.com/mhdang/seckill/internal/core/domain"
)

type DatabaseRepository interface {
	// CreateOrder persists the order and the matching inventory decrement in
	// one transaction. Inserting an order id that already exists is reported
	// as domain-level duplication, not as a transaction failure.
	CreateOrder(ctx context.Context, order domain.Order) error

	// CountOrders returns how many persisted orders exist for (userID, itemID).
	CountOrders(ctx context.Context, userID, itemID int64) (int, error)

	// GetInventory retrieves inventory by item ID, nil when absent.
	GetInventory(ctx context.Context, itemID int64) (*domain.Inventory, error)

	// GetItem retrieves an item row by ID, nil when absent.
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
}
