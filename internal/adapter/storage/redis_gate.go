package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mhdang/seckill/internal/port"
)

const (
	stockKeyPrefix  = "seckill:stock:"
	boughtKeyPrefix = "seckill:bought:"
)

// admitScript performs the whole admission decision in one server-side
// execution: dedupe check, stock check, then decrement + record + enqueue.
// Atomicity of these steps relative to concurrent attempts on the same item
// is what prevents oversell and double-purchase; the XADD rides in the same
// script so an admitted order can never be lost before it reaches the log.
//
// KEYS[1] stock counter, KEYS[2] dedupe set, KEYS[3] order stream
// ARGV[1] itemId, ARGV[2] userId, ARGV[3] orderId
// Returns 0 admitted, 1 out of stock, 2 duplicate.
var admitScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[2], ARGV[2]) == 1 then
	return 2
end

local stock = tonumber(redis.call('GET', KEYS[1]))
if not stock or stock <= 0 then
	return 1
end

redis.call('DECR', KEYS[1])
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('XADD', KEYS[3], '*', 'orderId', ARGV[3], 'userId', ARGV[2], 'itemId', ARGV[1])
return 0
`)

type RedisGate struct {
	client    *redis.Client
	streamKey string
}

func NewRedisGate(client *redis.Client, streamKey string) *RedisGate {
	return &RedisGate{client: client, streamKey: streamKey}
}

func (g *RedisGate) Admit(ctx context.Context, itemID, userID int64, orderID uint64) (port.AdmissionResult, error) {
	item := strconv.FormatInt(itemID, 10)
	keys := []string{stockKeyPrefix + item, boughtKeyPrefix + item, g.streamKey}

	result, err := admitScript.Run(ctx, g.client, keys,
		item,
		strconv.FormatInt(userID, 10),
		strconv.FormatUint(orderID, 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("run admission script: %w", err)
	}

	switch r := port.AdmissionResult(result); r {
	case port.AdmissionAccepted, port.AdmissionOutOfStock, port.AdmissionDuplicate:
		return r, nil
	default:
		return 0, fmt.Errorf("unexpected admission script result: %d", result)
	}
}

func (g *RedisGate) SeedStock(ctx context.Context, itemID int64, stock int) error {
	item := strconv.FormatInt(itemID, 10)

	pipe := g.client.TxPipeline()
	pipe.Set(ctx, stockKeyPrefix+item, stock, 0)
	pipe.Del(ctx, boughtKeyPrefix+item)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("seed stock for item %d: %w", itemID, err)
	}
	return nil
}
