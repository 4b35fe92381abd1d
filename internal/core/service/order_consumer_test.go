package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhdang/seckill/internal/core/domain"
	"github.com/mhdang/seckill/internal/port"
)

// mockQueue models a consumer-group stream: Next moves an entry onto the
// pending list, Ack removes it, NextPending replays unacked entries.
type mockQueue struct {
	mu           sync.Mutex
	undelivered  []*domain.OrderMessage
	pending      map[string]*domain.OrderMessage
	pendingOrder []string
	acked        map[string]bool
}

func newMockQueue(msgs ...*domain.OrderMessage) *mockQueue {
	return &mockQueue{
		undelivered: msgs,
		pending:     make(map[string]*domain.OrderMessage),
		acked:       make(map[string]bool),
	}
}

func (q *mockQueue) Next(ctx context.Context, consumer string) (*domain.OrderMessage, error) {
	q.mu.Lock()
	if len(q.undelivered) == 0 {
		q.mu.Unlock()
		time.Sleep(10 * time.Millisecond) // stand-in for the blocking read timeout
		return nil, nil
	}
	msg := q.undelivered[0]
	q.undelivered = q.undelivered[1:]
	q.pending[msg.EntryID] = msg
	q.pendingOrder = append(q.pendingOrder, msg.EntryID)
	q.mu.Unlock()
	return msg, nil
}

func (q *mockQueue) NextPending(ctx context.Context, consumer string) (*domain.OrderMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.pendingOrder {
		if msg, ok := q.pending[id]; ok {
			return msg, nil
		}
	}
	return nil, nil
}

func (q *mockQueue) Ack(ctx context.Context, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, entryID)
	q.acked[entryID] = true
	return nil
}

// deliverWithoutAck simulates a consumer that received the entry and
// crashed before acknowledging it.
func (q *mockQueue) deliverWithoutAck(msg *domain.OrderMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[msg.EntryID] = msg
	q.pendingOrder = append(q.pendingOrder, msg.EntryID)
}

type mockRepo struct {
	mu          sync.Mutex
	orders      map[uint64]domain.Order
	stock       int
	createCalls int
}

func newMockRepo(stock int) *mockRepo {
	return &mockRepo{orders: make(map[uint64]domain.Order), stock: stock}
}

func (r *mockRepo) CreateOrder(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if _, ok := r.orders[order.ID]; ok {
		return domain.ErrOrderExists
	}
	if r.stock <= 0 {
		return domain.ErrStockExhausted
	}
	r.stock--
	r.orders[order.ID] = order
	return nil
}

func (r *mockRepo) CountOrders(ctx context.Context, userID, itemID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, o := range r.orders {
		if o.UserID == userID && o.ItemID == itemID {
			count++
		}
	}
	return count, nil
}

func (r *mockRepo) GetInventory(ctx context.Context, itemID int64) (*domain.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &domain.Inventory{ItemID: itemID, Stock: r.stock}, nil
}

func (r *mockRepo) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	return nil, nil
}

type mockLockProvider struct {
	mu   sync.Mutex
	held map[string]bool
	busy bool // force every TryLock to fail
}

func newMockLockProvider() *mockLockProvider {
	return &mockLockProvider{held: make(map[string]bool)}
}

func (p *mockLockProvider) NewLock(name string) port.Lock {
	return &mockLock{p: p, name: name}
}

type mockLock struct {
	p    *mockLockProvider
	name string
}

func (l *mockLock) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	if l.p.busy || l.p.held[l.name] {
		return false, nil
	}
	l.p.held[l.name] = true
	return true, nil
}

func (l *mockLock) Unlock(ctx context.Context) error {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	delete(l.p.held, l.name)
	return nil
}

func orderMsg(entry string, orderID uint64, userID, itemID int64) *domain.OrderMessage {
	return &domain.OrderMessage{
		EntryID:    entry,
		OrderID:    orderID,
		UserID:     userID,
		ItemID:     itemID,
		EnqueuedAt: time.Now(),
	}
}

func newTestConsumer(q port.OrderQueue, r port.DatabaseRepository, locks port.LockProvider) *OrderConsumer {
	return NewOrderConsumer(q, r, locks, "test", 1, zerolog.Nop())
}

func TestConsumer_PersistsAndAcks(t *testing.T) {
	queue := newMockQueue(orderMsg("1-0", 1001, 7, 1))
	repo := newMockRepo(5)
	c := newTestConsumer(queue, repo, newMockLockProvider())

	msg, err := queue.Next(context.Background(), "test-0")
	if err != nil || msg == nil {
		t.Fatalf("expected a message, got %v, %v", msg, err)
	}
	if err := c.handle(context.Background(), msg, zerolog.Nop()); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if len(repo.orders) != 1 {
		t.Errorf("expected 1 persisted order, got %d", len(repo.orders))
	}
	if repo.stock != 4 {
		t.Errorf("expected stock 4, got %d", repo.stock)
	}
	if !queue.acked["1-0"] {
		t.Error("expected entry to be acknowledged")
	}
}

func TestConsumer_RecoversUnackedMessage(t *testing.T) {
	// Delivered but never acknowledged: the previous consumer crashed
	// before persisting.
	queue := newMockQueue()
	queue.deliverWithoutAck(orderMsg("1-0", 1001, 7, 1))
	repo := newMockRepo(5)
	c := newTestConsumer(queue, repo, newMockLockProvider())

	c.drainPending(context.Background(), "test-0", zerolog.Nop())

	if len(repo.orders) != 1 {
		t.Fatalf("expected 1 persisted order after recovery, got %d", len(repo.orders))
	}
	if repo.createCalls != 1 {
		t.Errorf("expected exactly 1 insert, got %d", repo.createCalls)
	}
	if !queue.acked["1-0"] {
		t.Error("expected recovered entry to be acknowledged")
	}
}

func TestConsumer_RecoveryIsIdempotent(t *testing.T) {
	// Crashed after the transaction committed but before the ack: the
	// replay must not produce a second persisted order.
	repo := newMockRepo(5)
	repo.orders[1001] = domain.Order{ID: 1001, UserID: 7, ItemID: 1}

	queue := newMockQueue()
	queue.deliverWithoutAck(orderMsg("1-0", 1001, 7, 1))
	c := newTestConsumer(queue, repo, newMockLockProvider())

	c.drainPending(context.Background(), "test-0", zerolog.Nop())

	if len(repo.orders) != 1 {
		t.Fatalf("expected 1 persisted order, got %d", len(repo.orders))
	}
	if repo.createCalls != 0 {
		t.Errorf("re-validation should have skipped the insert, got %d calls", repo.createCalls)
	}
	if !queue.acked["1-0"] {
		t.Error("expected replayed entry to be acknowledged")
	}
}

func TestConsumer_DuplicateInsertIsNoOp(t *testing.T) {
	// The unique-key race: re-validation sees no order for this user yet,
	// but the insert itself collides on the order id.
	repo := newMockRepo(5)
	repo.orders[1001] = domain.Order{ID: 1001, UserID: 99, ItemID: 2}

	queue := newMockQueue()
	queue.deliverWithoutAck(orderMsg("1-0", 1001, 7, 1))
	c := newTestConsumer(queue, repo, newMockLockProvider())

	c.drainPending(context.Background(), "test-0", zerolog.Nop())

	if !queue.acked["1-0"] {
		t.Error("duplicate order id must be acknowledged, not retried forever")
	}
	if repo.stock != 5 {
		t.Errorf("duplicate insert must not decrement stock, got %d", repo.stock)
	}
}

func TestConsumer_LockBusyLeavesMessagePending(t *testing.T) {
	locks := newMockLockProvider()
	locks.busy = true

	queue := newMockQueue()
	msg := orderMsg("1-0", 1001, 7, 1)
	queue.deliverWithoutAck(msg)
	repo := newMockRepo(5)
	c := newTestConsumer(queue, repo, locks)

	if err := c.handle(context.Background(), msg, zerolog.Nop()); err == nil {
		t.Fatal("expected busy-lock handling to report an error")
	}
	if queue.acked["1-0"] {
		t.Error("busy lock must leave the entry unacknowledged")
	}
	if len(repo.orders) != 0 {
		t.Error("busy lock must not persist the order")
	}
}

func TestConsumer_RunDrainsQueue(t *testing.T) {
	msgs := []*domain.OrderMessage{
		orderMsg("1-0", 1001, 1, 1),
		orderMsg("2-0", 1002, 2, 1),
		orderMsg("3-0", 1003, 3, 1),
	}
	queue := newMockQueue(msgs...)
	repo := newMockRepo(10)
	c := NewOrderConsumer(queue, repo, newMockLockProvider(), "test", 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		repo.mu.Lock()
		persisted := len(repo.orders)
		repo.mu.Unlock()
		if persisted == len(msgs) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out: %d of %d orders persisted", persisted, len(msgs))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for _, m := range msgs {
		if !queue.acked[m.EntryID] {
			t.Errorf("entry %s not acknowledged", m.EntryID)
		}
	}
	if repo.createCalls != len(msgs) {
		t.Errorf("expected %d inserts, got %d", len(msgs), repo.createCalls)
	}
}

func TestConsumer_StockExhaustedIsTerminal(t *testing.T) {
	// A failed conditional decrement drops the order instead of poisoning
	// the pending list.
	queue := newMockQueue(
		orderMsg("1-0", 1001, 1, 1),
		orderMsg("2-0", 1002, 2, 1),
	)
	repo := newMockRepo(0)
	c := newTestConsumer(queue, repo, newMockLockProvider())

	for i := 0; i < 2; i++ {
		msg, err := queue.Next(context.Background(), "test-0")
		if err != nil || msg == nil {
			t.Fatalf("expected message %d, got %v, %v", i, msg, err)
		}
		if err := c.handle(context.Background(), msg, zerolog.Nop()); err != nil {
			t.Fatalf("handle failed: %v", err)
		}
	}

	// Exhausted stock is terminal for both: dropped, acked, stock stays 0.
	if !queue.acked["1-0"] || !queue.acked["2-0"] {
		t.Error("expected both entries acknowledged")
	}
	if len(repo.orders) != 0 {
		t.Errorf("expected no orders persisted, got %d", len(repo.orders))
	}
}
