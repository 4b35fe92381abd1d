package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/mhdang/seckill/internal/core/domain"
)

const mysqlDupEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// CreateOrder inserts the order row and applies the matching inventory
// decrement in one transaction. The orders primary key makes redelivered
// messages idempotent: a duplicate insert rolls back to ErrOrderExists and
// the stock row is untouched.
func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, item_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.ItemID, order.Status,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDupEntry {
			return domain.ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET stock = stock - 1, version = version + 1, updated_at = NOW()
		WHERE item_id = ? AND stock > 0`,
		order.ItemID,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrStockExhausted
	}

	return tx.Commit()
}

func (m *MySQLAdapter) CountOrders(ctx context.Context, userID, itemID int64) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE user_id = ? AND item_id = ?`,
		userID, itemID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func (m *MySQLAdapter) GetInventory(ctx context.Context, itemID int64) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := m.db.QueryRowContext(ctx, `
		SELECT item_id, stock, version, created_at, updated_at
		FROM inventory WHERE item_id = ?`, itemID,
	).Scan(&inv.ItemID, &inv.Stock, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	return &inv, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	var item domain.Item
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, description, price, created_at, updated_at
		FROM items WHERE id = ?`, itemID,
	).Scan(&item.ID, &item.Name, &item.Description, &item.Price,
		&item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}

	return &item, nil
}
