package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mhdang/seckill/internal/core/domain"
	"github.com/mhdang/seckill/internal/pkg/cache"
	"github.com/mhdang/seckill/internal/port"
)

const itemKeyPrefix = "cache:item:"

// ItemService serves item detail reads through the cache-aside client.
type ItemService struct {
	cache    *cache.Client
	repo     port.DatabaseRepository
	strategy cache.Strategy
	ttl      time.Duration
	logger   zerolog.Logger
}

func NewItemService(cacheClient *cache.Client, repo port.DatabaseRepository, strategy cache.Strategy, ttl time.Duration, logger zerolog.Logger) *ItemService {
	return &ItemService{
		cache:    cacheClient,
		repo:     repo,
		strategy: strategy,
		ttl:      ttl,
		logger:   logger,
	}
}

// GetItem returns the item or nil when it does not exist. Lookups for
// absent ids are answered by the cached null sentinel without touching the
// database again.
func (s *ItemService) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	var item domain.Item
	err := s.cache.Get(ctx, itemKeyPrefix, strconv.FormatInt(itemID, 10), &item, s.loadItem, s.ttl, s.strategy)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", itemID, err)
	}
	return &item, nil
}

// WarmItem preloads an item with a logical expiry so hot keys served by the
// logical-expiration strategy never see a cold miss.
func (s *ItemService) WarmItem(ctx context.Context, itemID int64, ttl time.Duration) error {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item %d: %w", itemID, err)
	}
	if item == nil {
		return fmt.Errorf("warm item %d: item does not exist", itemID)
	}
	key := itemKeyPrefix + strconv.FormatInt(itemID, 10)
	if err := s.cache.SetLogical(ctx, key, item, ttl); err != nil {
		return fmt.Errorf("warm item %d: %w", itemID, err)
	}
	s.logger.Debug().Int64("item_id", itemID).Msg("item cache warmed")
	return nil
}

func (s *ItemService) loadItem(ctx context.Context, id string) (any, error) {
	itemID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse item id %q: %w", id, err)
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	return item, nil
}
