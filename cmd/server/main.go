package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mhdang/seckill/internal/adapter/handler"
	"github.com/mhdang/seckill/internal/adapter/storage"
	"github.com/mhdang/seckill/internal/config"
	"github.com/mhdang/seckill/internal/core/service"
	"github.com/mhdang/seckill/internal/pkg/cache"
	"github.com/mhdang/seckill/internal/pkg/idgen"
	"github.com/mhdang/seckill/internal/pkg/lock"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping mysql")
	}
	logger.Info().Msg("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	logger.Info().Msg("connected to redis")

	// Adapters and primitives
	locks := lock.NewClient(rdb)
	cacheClient := cache.New(rdb, locks, cache.Options{Logger: logger})
	ids := idgen.New(rdb)
	gate := storage.NewRedisGate(rdb, cfg.StreamKey)
	queue := storage.NewRedisQueue(rdb, cfg.StreamKey, cfg.ConsumerGroup)
	repo := storage.NewMySQLAdapter(db)

	if err := queue.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure consumer group")
	}

	// Optional stock warm-up: copy the authoritative count into the gate.
	if cfg.SeedItemID > 0 {
		stock := cfg.SeedStock
		if inv, err := repo.GetInventory(ctx, cfg.SeedItemID); err != nil {
			logger.Fatal().Err(err).Msg("load inventory for seeding")
		} else if inv != nil {
			stock = inv.Stock
		}
		if err := gate.SeedStock(ctx, cfg.SeedItemID, stock); err != nil {
			logger.Fatal().Err(err).Msg("seed stock")
		}
		logger.Info().Int64("item_id", cfg.SeedItemID).Int("stock", stock).Msg("stock seeded")
	}

	// Services
	admission := service.NewAdmissionService(gate, ids, logger)
	items := service.NewItemService(cacheClient, repo, cache.StrategyPassThrough, cfg.ItemCacheTTL, logger)
	consumer := service.NewOrderConsumer(queue, repo, storage.NewLockProvider(locks), cfg.ConsumerName, cfg.Workers, logger)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("consumer stopped")
		}
	}()
	logger.Info().Int("workers", cfg.Workers).Str("group", cfg.ConsumerGroup).Msg("order consumer started")

	// HTTP server
	httpHandler := handler.NewHTTPHandler(admission, items, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/purchase", httpHandler.Purchase)
	mux.HandleFunc("/api/items/{id}", httpHandler.GetItem)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info().Msg("http server stopped")

	// Stop the consumer, then the rebuild pool, then the connections.
	cancel()
	<-consumerDone
	logger.Info().Msg("consumer stopped")

	cacheClient.Close()
	rdb.Close()
	db.Close()
	logger.Info().Msg("connections closed")
}
