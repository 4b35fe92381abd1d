package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mhdang/seckill/internal/core/domain"
	"github.com/mhdang/seckill/internal/port"
)

const (
	userLockPrefix = "order:"
	userLockTTL    = 10 * time.Second
	readRetryDelay = time.Second
	persistTimeout = 5 * time.Second
)

var errUserLocked = errors.New("user lock busy")

// OrderConsumer drains the durable order log and materializes admitted
// orders. Messages are acknowledged only after the order row and the
// inventory decrement are committed, so a crash between delivery and ack
// leaves the message on the pending list for the recovery pass. Persistence
// is idempotent, which makes the resulting at-least-once delivery safe.
type OrderConsumer struct {
	queue   port.OrderQueue
	repo    port.DatabaseRepository
	locks   port.LockProvider
	logger  zerolog.Logger
	name    string
	workers int
}

func NewOrderConsumer(queue port.OrderQueue, repo port.DatabaseRepository, locks port.LockProvider, name string, workers int, logger zerolog.Logger) *OrderConsumer {
	if workers < 1 {
		workers = 1
	}
	return &OrderConsumer{
		queue:   queue,
		repo:    repo,
		locks:   locks,
		logger:  logger,
		name:    name,
		workers: workers,
	}
}

// Run blocks until ctx is cancelled, consuming with one named consumer per
// worker so the group never double-delivers an entry to two live workers.
func (c *OrderConsumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		consumer := fmt.Sprintf("%s-%d", c.name, i)
		g.Go(func() error {
			return c.runWorker(ctx, consumer)
		})
	}
	return g.Wait()
}

func (c *OrderConsumer) runWorker(ctx context.Context, consumer string) error {
	logger := c.logger.With().Str("consumer", consumer).Logger()

	// A previous incarnation of this consumer may have crashed mid-message;
	// reprocess whatever it left unacknowledged before taking new work.
	c.drainPending(ctx, consumer, logger)

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := c.queue.Next(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("read order stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readRetryDelay):
			}
			continue
		}
		if msg == nil {
			// Blocking read woke with no data; loop so shutdown is noticed.
			continue
		}

		if err := c.handle(ctx, msg, logger); err != nil {
			logger.Error().Err(err).Str("entry_id", msg.EntryID).Msg("process order message")
			c.drainPending(ctx, consumer, logger)
		}
	}
}

// drainPending reprocesses delivered-but-unacknowledged entries from the
// beginning of the pending list until it is empty.
func (c *OrderConsumer) drainPending(ctx context.Context, consumer string, logger zerolog.Logger) {
	for ctx.Err() == nil {
		msg, err := c.queue.NextPending(ctx, consumer)
		if err != nil {
			logger.Error().Err(err).Msg("read pending list")
			return
		}
		if msg == nil {
			return
		}
		if err := c.handle(ctx, msg, logger); err != nil {
			logger.Error().Err(err).Str("entry_id", msg.EntryID).Msg("reprocess pending order")
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
		}
	}
}

func (c *OrderConsumer) handle(ctx context.Context, msg *domain.OrderMessage, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if err := c.materialize(ctx, msg, logger); err != nil {
		return err
	}
	// The lock is released inside materialize before the entry is acked.
	if err := c.queue.Ack(ctx, msg.EntryID); err != nil {
		return fmt.Errorf("ack order %d: %w", msg.OrderID, err)
	}
	return nil
}

func (c *OrderConsumer) materialize(ctx context.Context, msg *domain.OrderMessage, logger zerolog.Logger) error {
	// The gate already deduped per (user, item); the per-user lock guards
	// against any path that bypassed it.
	mu := c.locks.NewLock(fmt.Sprintf("%s%d", userLockPrefix, msg.UserID))
	ok, err := mu.TryLock(ctx, userLockTTL)
	if err != nil {
		return fmt.Errorf("acquire user lock: %w", err)
	}
	if !ok {
		// Leave the message pending; the recovery pass retries it after the
		// competing holder finishes or its TTL lapses.
		return errUserLocked
	}
	defer func() {
		if uerr := mu.Unlock(ctx); uerr != nil {
			logger.Error().Err(uerr).Int64("user_id", msg.UserID).Msg("release user lock")
		}
	}()

	count, err := c.repo.CountOrders(ctx, msg.UserID, msg.ItemID)
	if err != nil {
		return fmt.Errorf("re-validate order: %w", err)
	}
	if count > 0 {
		logger.Debug().Uint64("order_id", msg.OrderID).Msg("order already materialized")
		return nil
	}

	now := time.Now()
	err = c.repo.CreateOrder(ctx, domain.Order{
		ID:        msg.OrderID,
		UserID:    msg.UserID,
		ItemID:    msg.ItemID,
		Status:    domain.OrderStatusConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	})
	switch {
	case errors.Is(err, domain.ErrOrderExists):
		// Redelivery raced an earlier persist; nothing left to do.
		return nil
	case errors.Is(err, domain.ErrStockExhausted):
		// The gate admits at most the seeded stock, so a failed decrement
		// means the authoritative row was seeded lower than the cache.
		// Dropping the order keeps stock non-negative.
		logger.Error().
			Uint64("order_id", msg.OrderID).
			Int64("item_id", msg.ItemID).
			Msg("authoritative stock exhausted, order dropped")
		return nil
	case err != nil:
		return fmt.Errorf("persist order %d: %w", msg.OrderID, err)
	}

	logger.Info().
		Uint64("order_id", msg.OrderID).
		Int64("user_id", msg.UserID).
		Int64("item_id", msg.ItemID).
		Msg("order persisted")
	return nil
}
