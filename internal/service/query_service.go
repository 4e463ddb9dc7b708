package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nest-markets/nestd/internal/domain"
)

// resolutionTrailTypes are the events that make up a market's path from
// submission to settlement.
var resolutionTrailTypes = []domain.EventType{
	domain.EventResolutionSubmitted,
	domain.EventMarketDisputed,
	domain.EventMarketSettled,
}

// ResolutionStatus joins the market projection with its lifecycle trail.
// HasTrail is false for markets nobody has tried to resolve yet.
type ResolutionStatus struct {
	Market    domain.MarketProjection    `json:"market"`
	Lifecycle domain.LifecycleProjection `json:"lifecycle"`
	HasTrail  bool                       `json:"has_trail"`
}

// IndexerHealth reports how far the fold has progressed.
type IndexerHealth struct {
	EventCount      int64  `json:"market_events_count"`
	PricePointCount int64  `json:"price_points_count"`
	LastBlockHeight uint64 `json:"last_block_height"`
}

// QueryService serves the indexer's read models: price history, trade logs,
// resolution trails and projection summaries. It never touches the chain.
type QueryService struct {
	events      domain.EventStore
	prices      domain.PricePointStore
	projections domain.ProjectionStore
	priceCache  domain.PriceCache
	logger      *slog.Logger
}

// NewQueryService creates the read-model service. priceCache may be nil when
// no cache is wired; reads then come straight from the stores.
func NewQueryService(
	events domain.EventStore,
	prices domain.PricePointStore,
	projections domain.ProjectionStore,
	priceCache domain.PriceCache,
	logger *slog.Logger,
) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		events:      events,
		prices:      prices,
		projections: projections,
		priceCache:  priceCache,
		logger:      logger.With(slog.String("component", "query_service")),
	}
}

// PriceHistory returns chart samples for a market, oldest first.
func (s *QueryService) PriceHistory(ctx context.Context, marketID domain.MarketID, limit int) ([]domain.PricePoint, error) {
	points, err := s.prices.History(ctx, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("query_service: price history: %w", err)
	}
	return points, nil
}

// Trades returns a market's recent trades, newest first.
func (s *QueryService) Trades(ctx context.Context, marketID domain.MarketID, opts domain.ListOpts) ([]domain.PricePoint, error) {
	points, err := s.prices.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: trades: %w", err)
	}
	return points, nil
}

// Activity returns a market's resolution trail events, newest first.
func (s *QueryService) Activity(ctx context.Context, marketID domain.MarketID, limit int) ([]domain.StoredEvent, error) {
	events, err := s.events.ListByTypes(ctx, marketID, resolutionTrailTypes, limit)
	if err != nil {
		return nil, fmt.Errorf("query_service: activity: %w", err)
	}
	return events, nil
}

// Resolution reports where a market stands on its way to settlement.
func (s *QueryService) Resolution(ctx context.Context, marketID domain.MarketID) (ResolutionStatus, error) {
	market, err := s.projections.GetMarket(ctx, marketID)
	if err != nil {
		return ResolutionStatus{}, fmt.Errorf("query_service: resolution: %w", err)
	}

	status := ResolutionStatus{Market: market}
	lifecycle, err := s.projections.GetLifecycle(ctx, marketID)
	switch {
	case err == nil:
		status.Lifecycle = lifecycle
		status.HasTrail = true
	case errors.Is(err, domain.ErrNotFound):
		// Never entered resolution.
	default:
		return ResolutionStatus{}, fmt.Errorf("query_service: resolution trail: %w", err)
	}
	return status, nil
}

// MarketSummaries lists the projection read model. Cached prices overlay the
// stored rows when the cache has seen a newer block.
func (s *QueryService) MarketSummaries(ctx context.Context, opts domain.ListOpts) ([]domain.MarketProjection, error) {
	rows, err := s.projections.ListMarkets(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("query_service: list markets: %w", err)
	}
	s.overlayCachedPrices(ctx, rows)
	return rows, nil
}

func (s *QueryService) overlayCachedPrices(ctx context.Context, rows []domain.MarketProjection) {
	if s.priceCache == nil || len(rows) == 0 {
		return
	}
	ids := make([]domain.MarketID, len(rows))
	for i, row := range rows {
		ids[i] = row.MarketID
	}
	snaps, err := s.priceCache.GetLatestBatch(ctx, ids)
	if err != nil {
		s.logger.Warn("price cache batch read failed", slog.Any("error", err))
		return
	}
	for i := range rows {
		snap, ok := snaps[rows[i].MarketID]
		if !ok || snap.BlockHeight < rows[i].UpdatedBlockHeight {
			continue
		}
		rows[i].YesPrice = snap.YesPrice
		rows[i].NoPrice = snap.NoPrice
	}
}

// LatestPrice returns a market's most recent price snapshot, preferring the
// cache and falling back to the projection row.
func (s *QueryService) LatestPrice(ctx context.Context, marketID domain.MarketID) (domain.PriceSnapshot, error) {
	if s.priceCache != nil {
		snap, err := s.priceCache.GetLatest(ctx, marketID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("price cache read failed",
				slog.Uint64("market_id", uint64(marketID)),
				slog.Any("error", err),
			)
		}
	}

	row, err := s.projections.GetMarket(ctx, marketID)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("query_service: latest price: %w", err)
	}
	return domain.PriceSnapshot{
		MarketID:    row.MarketID,
		YesPrice:    row.YesPrice,
		NoPrice:     row.NoPrice,
		BlockHeight: row.UpdatedBlockHeight,
	}, nil
}

// Health counts what the indexer has written so far.
func (s *QueryService) Health(ctx context.Context) (IndexerHealth, error) {
	eventCount, err := s.events.Count(ctx)
	if err != nil {
		return IndexerHealth{}, fmt.Errorf("query_service: count events: %w", err)
	}
	priceCount, err := s.prices.Count(ctx)
	if err != nil {
		return IndexerHealth{}, fmt.Errorf("query_service: count price points: %w", err)
	}
	height, err := s.events.LastBlockHeight(ctx)
	if err != nil {
		return IndexerHealth{}, fmt.Errorf("query_service: last block height: %w", err)
	}
	return IndexerHealth{
		EventCount:      eventCount,
		PricePointCount: priceCount,
		LastBlockHeight: height,
	}, nil
}
