// Package cache implements a load-through cache over Redis with three
// selectable miss strategies: pass-through with null-caching, mutex-guarded
// rebuild, and logical-expiration with asynchronous rebuild.
//
// Values are stored as a JSON envelope {"data": ..., "logicalExpireAt": ...};
// an empty string is the null sentinel marking a key as confirmed absent.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mhdang/seckill/internal/pkg/lock"
)

type Strategy int

const (
	// StrategyPassThrough loads on miss and caches a short-lived null
	// sentinel for absent rows, blocking repeated backing-store lookups
	// for keys that do not exist.
	StrategyPassThrough Strategy = iota

	// StrategyMutex serializes rebuilds behind a per-key lock; concurrent
	// readers retry the lookup with a bounded wait.
	StrategyMutex

	// StrategyLogicalExpire always returns the cached value immediately,
	// stale or not, and refreshes expired entries asynchronously behind a
	// non-blocking per-key lock.
	StrategyLogicalExpire
)

var (
	// ErrNotFound reports a key confirmed absent in the backing store.
	ErrNotFound = errors.New("cache: value not found")

	// ErrRebuildTimeout reports that a mutex-strategy lookup exhausted its
	// wait for the rebuild lock.
	ErrRebuildTimeout = errors.New("cache: timed out waiting for rebuild lock")
)

// Loader fetches the authoritative value for id. Returning (nil, nil) means
// the row does not exist; the client then caches a null sentinel.
type Loader func(ctx context.Context, id string) (any, error)

type envelope struct {
	Data            json.RawMessage `json:"data"`
	LogicalExpireAt int64           `json:"logicalExpireAt,omitempty"` // unix nanoseconds
}

type Options struct {
	NullTTL        time.Duration // sentinel lifetime
	LockTTL        time.Duration // rebuild lock lifetime
	RetryDelay     time.Duration // mutex-strategy retry interval
	MaxWait        time.Duration // mutex-strategy total wait budget
	RebuildWorkers int
	RebuildQueue   int
	Logger         zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.NullTTL <= 0 {
		o.NullTTL = 2 * time.Minute
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 50 * time.Millisecond
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 2 * time.Second
	}
	if o.RebuildWorkers <= 0 {
		o.RebuildWorkers = 4
	}
	if o.RebuildQueue <= 0 {
		o.RebuildQueue = 64
	}
}

type rebuildJob struct {
	key    string
	id     string
	loader Loader
	ttl    time.Duration
	mu     *lock.Mutex
}

// Client is safe for concurrent use. The async rebuild pool is started by
// New and must be stopped with Close.
type Client struct {
	rdb    redis.UniversalClient
	locks  *lock.Client
	opt    Options
	logger zerolog.Logger

	jobs      chan rebuildJob
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(rdb redis.UniversalClient, locks *lock.Client, opt Options) *Client {
	opt.applyDefaults()
	c := &Client{
		rdb:    rdb,
		locks:  locks,
		opt:    opt,
		logger: opt.Logger,
		jobs:   make(chan rebuildJob, opt.RebuildQueue),
	}
	for i := 0; i < opt.RebuildWorkers; i++ {
		c.wg.Add(1)
		go c.rebuildWorker()
	}
	return c
}

// Close stops the rebuild pool after draining queued jobs.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.jobs)
		c.wg.Wait()
	})
}

// Get looks up keyPrefix+id, falling back to loader under the chosen
// strategy, and decodes the result into dest. Returns ErrNotFound for rows
// confirmed absent.
func (c *Client) Get(ctx context.Context, keyPrefix, id string, dest any, loader Loader, ttl time.Duration, strategy Strategy) error {
	switch strategy {
	case StrategyPassThrough:
		return c.getPassThrough(ctx, keyPrefix+id, id, dest, loader, ttl)
	case StrategyMutex:
		return c.getWithMutex(ctx, keyPrefix+id, id, dest, loader, ttl)
	case StrategyLogicalExpire:
		return c.getWithLogicalExpire(ctx, keyPrefix+id, id, dest, loader, ttl)
	default:
		return fmt.Errorf("cache: unknown strategy %d", strategy)
	}
}

// Set stores value under key with a store-level TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	raw, err := json.Marshal(envelope{Data: data})
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// SetLogical stores value under key with no store-level TTL; staleness is
// carried inside the envelope and judged at read time. Used to warm keys
// served by StrategyLogicalExpire.
func (c *Client) SetLogical(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	raw, err := json.Marshal(envelope{
		Data:            data,
		LogicalExpireAt: time.Now().Add(ttl).UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}
	return c.rdb.Set(ctx, key, raw, 0).Err()
}

func (c *Client) setNullSentinel(ctx context.Context, key string) error {
	return c.rdb.Set(ctx, key, "", c.opt.NullTTL).Err()
}

// lookup fetches key and decodes a present envelope into dest.
// found=false on a plain miss; ErrNotFound on the null sentinel.
func (c *Client) lookup(ctx context.Context, key string, dest any) (found bool, err error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if val == "" {
		return true, ErrNotFound
	}
	var env envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return false, fmt.Errorf("decode cache envelope %s: %w", key, err)
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return false, fmt.Errorf("decode cache value %s: %w", key, err)
	}
	return true, nil
}

// loadAndStore runs the loader and persists either the value or a null
// sentinel, then decodes the loaded value into dest.
func (c *Client) loadAndStore(ctx context.Context, key, id string, dest any, loader Loader, ttl time.Duration) error {
	v, err := loader(ctx, id)
	if err != nil {
		return fmt.Errorf("cache loader %s: %w", key, err)
	}
	if v == nil {
		if err := c.setNullSentinel(ctx, key); err != nil {
			return err
		}
		return ErrNotFound
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		return err
	}
	return decodeInto(v, dest)
}

func (c *Client) getPassThrough(ctx context.Context, key, id string, dest any, loader Loader, ttl time.Duration) error {
	found, err := c.lookup(ctx, key, dest)
	if found || err != nil {
		return err
	}
	return c.loadAndStore(ctx, key, id, dest, loader, ttl)
}

func (c *Client) getWithMutex(ctx context.Context, key, id string, dest any, loader Loader, ttl time.Duration) error {
	deadline := time.Now().Add(c.opt.MaxWait)
	for {
		found, err := c.lookup(ctx, key, dest)
		if found || err != nil {
			return err
		}

		mu := c.locks.NewMutex("cache:" + key)
		ok, err := mu.TryLock(ctx, c.opt.LockTTL)
		if err != nil {
			return fmt.Errorf("cache rebuild lock %s: %w", key, err)
		}
		if !ok {
			if time.Now().After(deadline) {
				return ErrRebuildTimeout
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opt.RetryDelay):
			}
			continue
		}

		err = func() error {
			defer func() {
				if uerr := mu.Unlock(ctx); uerr != nil {
					c.logger.Error().Err(uerr).Str("key", key).Msg("release cache rebuild lock")
				}
			}()
			// Another holder may have just populated the key.
			found, err := c.lookup(ctx, key, dest)
			if found || err != nil {
				return err
			}
			return c.loadAndStore(ctx, key, id, dest, loader, ttl)
		}()
		return err
	}
}

func (c *Client) getWithLogicalExpire(ctx context.Context, key, id string, dest any, loader Loader, ttl time.Duration) error {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Logical-expiry keys are warmed ahead of time; a true miss means
		// the key is simply not served by this strategy.
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if val == "" {
		return ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return fmt.Errorf("decode cache envelope %s: %w", key, err)
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode cache value %s: %w", key, err)
	}

	if env.LogicalExpireAt == 0 || time.Now().UnixNano() < env.LogicalExpireAt {
		return nil
	}

	// Expired: at most one reader wins the lock and schedules the rebuild;
	// everyone, winner included, returns the stale value without blocking.
	mu := c.locks.NewMutex("cache:" + key)
	ok, err := mu.TryLock(ctx, c.opt.LockTTL)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("try cache rebuild lock")
		return nil
	}
	if ok {
		select {
		case c.jobs <- rebuildJob{key: key, id: id, loader: loader, ttl: ttl, mu: mu}:
		default:
			// Pool saturated; give the lock back so a later reader retries.
			if uerr := mu.Unlock(ctx); uerr != nil {
				c.logger.Error().Err(uerr).Str("key", key).Msg("release cache rebuild lock")
			}
			c.logger.Warn().Str("key", key).Msg("rebuild queue full, serving stale")
		}
	}
	return nil
}

func (c *Client) rebuildWorker() {
	defer c.wg.Done()
	for job := range c.jobs {
		c.runRebuild(job)
	}
}

func (c *Client) runRebuild(job rebuildJob) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opt.LockTTL)
	defer cancel()
	defer func() {
		if err := job.mu.Unlock(ctx); err != nil {
			c.logger.Error().Err(err).Str("key", job.key).Msg("release cache rebuild lock")
		}
	}()

	// Another process may have refreshed the entry while we raced the lock.
	if val, err := c.rdb.Get(ctx, job.key).Result(); err == nil && val != "" {
		var env envelope
		if json.Unmarshal([]byte(val), &env) == nil &&
			env.LogicalExpireAt > 0 && time.Now().UnixNano() < env.LogicalExpireAt {
			return
		}
	}

	v, err := job.loader(ctx, job.id)
	if err != nil {
		c.logger.Error().Err(err).Str("key", job.key).Msg("async cache rebuild")
		return
	}
	if v == nil {
		if err := c.setNullSentinel(ctx, job.key); err != nil {
			c.logger.Error().Err(err).Str("key", job.key).Msg("write null sentinel")
		}
		return
	}
	if err := c.SetLogical(ctx, job.key, v, job.ttl); err != nil {
		c.logger.Error().Err(err).Str("key", job.key).Msg("write rebuilt cache entry")
	}
}

// decodeInto round-trips a loader result through JSON into the caller's
// destination, so Get behaves identically on hits and on loads.
func decodeInto(v, dest any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal loaded value: %w", err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return fmt.Errorf("decode loaded value: %w", err)
	}
	return nil
}
