// Package service composes the domain modules into the operations exposed by
// the HTTP API and the runtime modes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// MarketService handles market reads and metadata sync.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil to disable
// caching.
func NewMarketService(
	markets domain.MarketStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// SyncMarket upserts a market into the persistent store and invalidates the
// cached entry so subsequent reads pick up fresh data.
func (s *MarketService) SyncMarket(ctx context.Context, m domain.Market) error {
	if err := s.markets.Upsert(ctx, m); err != nil {
		return fmt.Errorf("market_service: upsert: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, m.ID); err != nil {
			s.logger.WarnContext(ctx, "cache invalidate failed",
				slog.Int64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			// Non-fatal: the cache will eventually expire on its own.
		}
	}
	return nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the persistent store on a cache miss.
func (s *MarketService) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %d: %w", id, err)
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Int64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}

	return m, nil
}

// ListByState returns markets in the given state from the persistent store.
func (s *MarketService) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByState(ctx, state, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by state %s: %w", state, err)
	}
	return markets, nil
}

// ListDue returns markets whose resolution deadline has passed and that are
// not yet terminal.
func (s *MarketService) ListDue(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListDue(ctx, time.Now().UTC(), opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list due: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the persistent store.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}
