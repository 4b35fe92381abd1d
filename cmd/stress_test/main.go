package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mhdang/seckill/internal/adapter/storage"
	"github.com/mhdang/seckill/internal/core/service"
	"github.com/mhdang/seckill/internal/pkg/idgen"
)

const (
	redisAddr     = "localhost:6379"
	streamKey     = "stream:orders"
	itemID        = int64(1001)
	initialStock  = 20
	totalRequests = 50
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	gate := storage.NewRedisGate(rdb, streamKey)
	if err := gate.SeedStock(ctx, itemID, initialStock); err != nil {
		logger.Fatal().Err(err).Msg("seed stock")
	}
	rdb.Del(ctx, streamKey)

	admission := service.NewAdmissionService(gate, idgen.New(rdb), logger)

	var admitted, soldOut, duplicate, failed atomic.Int32
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := admission.Purchase(ctx, userID, itemID)
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, service.ErrInsufficientStock):
				soldOut.Add(1)
			case errors.Is(err, service.ErrAlreadyPurchased):
				duplicate.Add(1)
			default:
				failed.Add(1)
				logger.Error().Err(err).Int64("user_id", userID).Msg("purchase error")
			}
		}(int64(i + 1))
	}
	wg.Wait()
	elapsed := time.Since(start)

	enqueued, _ := rdb.XLen(ctx, streamKey).Result()

	logger.Info().
		Int32("admitted", admitted.Load()).
		Int32("sold_out", soldOut.Load()).
		Int32("duplicate", duplicate.Load()).
		Int32("failed", failed.Load()).
		Int64("enqueued", enqueued).
		Dur("elapsed", elapsed).
		Msg("stress run complete")

	if admitted.Load() != initialStock || enqueued != initialStock {
		logger.Fatal().Msg("admissions do not match seeded stock")
	}
}
