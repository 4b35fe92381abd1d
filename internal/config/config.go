package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	MySQLDSN      string
	RedisAddr     string
	RedisPoolSize int

	StreamKey     string
	ConsumerGroup string
	ConsumerName  string
	Workers       int

	ItemCacheTTL time.Duration

	// SeedItemID/SeedStock warm the gate's stock counter at startup.
	// SeedItemID <= 0 disables seeding.
	SeedItemID int64
	SeedStock  int
}

// Load builds the configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MySQLDSN:      getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/seckill?parseTime=true"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 100),
		StreamKey:     getEnv("ORDER_STREAM", "stream:orders"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "g1"),
		ConsumerName:  getEnv("CONSUMER_NAME", "c1"),
		Workers:       getEnvInt("CONSUMER_WORKERS", 4),
		ItemCacheTTL:  getEnvDuration("ITEM_CACHE_TTL", 30*time.Minute),
		SeedItemID:    int64(getEnvInt("SEED_ITEM_ID", 0)),
		SeedStock:     getEnvInt("SEED_STOCK", 0),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
