package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mhdang/seckill/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/seckill?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	ctx := context.Background()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT UNSIGNED PRIMARY KEY,
			user_id BIGINT NOT NULL,
			item_id BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			KEY idx_user_item (user_id, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			item_id BIGINT PRIMARY KEY,
			stock INT NOT NULL,
			version INT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id BIGINT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			price BIGINT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("schema setup failed: %v", err)
		}
	}

	return db
}

func resetTestRows(ctx context.Context, t *testing.T, db *sql.DB, itemID int64, stock int) {
	t.Helper()
	if _, err := db.ExecContext(ctx, `DELETE FROM orders WHERE item_id = ?`, itemID); err != nil {
		t.Fatalf("cleanup orders: %v", err)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO inventory (item_id, stock, version) VALUES (?, ?, 0)
		ON DUPLICATE KEY UPDATE stock = VALUES(stock), version = 0`, itemID, stock)
	if err != nil {
		t.Fatalf("setup inventory: %v", err)
	}
}

func testOrder(orderID uint64, userID, itemID int64) domain.Order {
	now := time.Now().Truncate(time.Second)
	return domain.Order{
		ID:        orderID,
		UserID:    userID,
		ItemID:    itemID,
		Status:    domain.OrderStatusConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateOrder_Success(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	resetTestRows(ctx, t, db, 9101, 10)

	if err := adapter.CreateOrder(ctx, testOrder(810001, 1, 9101)); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	inv, err := adapter.GetInventory(ctx, 9101)
	if err != nil || inv == nil {
		t.Fatalf("get inventory: %v %v", inv, err)
	}
	if inv.Stock != 9 {
		t.Errorf("expected stock 9, got %d", inv.Stock)
	}
	if inv.Version != 1 {
		t.Errorf("expected version 1, got %d", inv.Version)
	}

	count, err := adapter.CountOrders(ctx, 1, 9101)
	if err != nil || count != 1 {
		t.Errorf("expected 1 order, got %d (err %v)", count, err)
	}
}

func TestCreateOrder_DuplicateIDIsIdempotent(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	resetTestRows(ctx, t, db, 9102, 10)

	order := testOrder(810002, 2, 9102)
	if err := adapter.CreateOrder(ctx, order); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	err := adapter.CreateOrder(ctx, order)
	if !errors.Is(err, domain.ErrOrderExists) {
		t.Fatalf("expected ErrOrderExists, got: %v", err)
	}

	// The duplicate rolled back before touching inventory.
	inv, _ := adapter.GetInventory(ctx, 9102)
	if inv.Stock != 9 {
		t.Errorf("duplicate insert must not decrement stock again, got %d", inv.Stock)
	}
	count, _ := adapter.CountOrders(ctx, 2, 9102)
	if count != 1 {
		t.Errorf("expected exactly 1 persisted order, got %d", count)
	}
}

func TestCreateOrder_StockExhausted(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	resetTestRows(ctx, t, db, 9103, 0)

	err := adapter.CreateOrder(ctx, testOrder(810003, 3, 9103))
	if !errors.Is(err, domain.ErrStockExhausted) {
		t.Fatalf("expected ErrStockExhausted, got: %v", err)
	}

	// The whole transaction rolled back: no orphan order row.
	count, _ := adapter.CountOrders(ctx, 3, 9103)
	if count != 0 {
		t.Errorf("expected no persisted order, got %d", count)
	}
}

func TestGetItem_Missing(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	item, err := adapter.GetItem(ctx, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil for missing item, got %+v", item)
	}
}
