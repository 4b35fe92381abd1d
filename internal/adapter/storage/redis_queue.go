package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mhdang/seckill/internal/core/domain"
)

const defaultBlockTimeout = 2 * time.Second

// RedisQueue is a durable order log on a Redis Stream with consumer-group
// semantics: entries delivered to a consumer stay on the group's pending
// list until acknowledged, surviving consumer crashes.
type RedisQueue struct {
	client    *redis.Client
	streamKey string
	group     string
	blockFor  time.Duration
}

func NewRedisQueue(client *redis.Client, streamKey, group string) *RedisQueue {
	return &RedisQueue{
		client:    client,
		streamKey: streamKey,
		group:     group,
		blockFor:  defaultBlockTimeout,
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (q *RedisQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.streamKey, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", q.group, err)
	}
	return nil
}

func (q *RedisQueue) Next(ctx context.Context, consumer string) (*domain.OrderMessage, error) {
	return q.read(ctx, consumer, ">", q.blockFor)
}

func (q *RedisQueue) NextPending(ctx context.Context, consumer string) (*domain.OrderMessage, error) {
	return q.read(ctx, consumer, "0", 0)
}

func (q *RedisQueue) Ack(ctx context.Context, entryID string) error {
	if err := q.client.XAck(ctx, q.streamKey, q.group, entryID).Err(); err != nil {
		return fmt.Errorf("ack entry %s: %w", entryID, err)
	}
	return nil
}

func (q *RedisQueue) read(ctx context.Context, consumer, offset string, block time.Duration) (*domain.OrderMessage, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.streamKey, offset},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		// Blocking read timed out with no data; the caller's loop decides
		// what to do next.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", q.streamKey, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return parseOrderMessage(streams[0].Messages[0])
}

func parseOrderMessage(msg redis.XMessage) (*domain.OrderMessage, error) {
	out := &domain.OrderMessage{EntryID: msg.ID}

	orderID, err := fieldUint64(msg, "orderId")
	if err != nil {
		return nil, err
	}
	out.OrderID = orderID

	if out.UserID, err = fieldInt64(msg, "userId"); err != nil {
		return nil, err
	}
	if out.ItemID, err = fieldInt64(msg, "itemId"); err != nil {
		return nil, err
	}

	// Stream ids are "<unix-ms>-<seq>"; the prefix is the enqueue time.
	if ms, _, ok := strings.Cut(msg.ID, "-"); ok {
		if unixMs, err := strconv.ParseInt(ms, 10, 64); err == nil {
			out.EnqueuedAt = time.UnixMilli(unixMs)
		}
	}

	return out, nil
}

func fieldInt64(msg redis.XMessage, field string) (int64, error) {
	raw, ok := msg.Values[field].(string)
	if !ok {
		return 0, fmt.Errorf("entry %s: missing field %q", msg.ID, field)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("entry %s: field %q: %w", msg.ID, field, err)
	}
	return v, nil
}

func fieldUint64(msg redis.XMessage, field string) (uint64, error) {
	raw, ok := msg.Values[field].(string)
	if !ok {
		return 0, fmt.Errorf("entry %s: missing field %q", msg.ID, field)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("entry %s: field %q: %w", msg.ID, field, err)
	}
	return v, nil
}
