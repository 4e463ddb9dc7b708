package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/nest-markets/nestd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// latest prices live at key "price:{marketID}" with fields "yes_price",
// "no_price", "block_height" and "block_timestamp_ns".
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(marketID domain.MarketID) string {
	return "price:" + strconv.FormatUint(uint64(marketID), 10)
}

// SetLatest stores the most recent price pair for a market.
func (pc *PriceCache) SetLatest(ctx context.Context, snap domain.PriceSnapshot) error {
	fields := map[string]interface{}{
		"yes_price":          snap.YesPrice.String(),
		"no_price":           snap.NoPrice.String(),
		"block_height":       strconv.FormatUint(snap.BlockHeight, 10),
		"block_timestamp_ns": strconv.FormatUint(uint64(snap.BlockTimestampNS), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(snap.MarketID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set latest price %d: %w", snap.MarketID, err)
	}
	return nil
}

func snapshotFromFields(marketID domain.MarketID, vals map[string]string) (domain.PriceSnapshot, error) {
	snap := domain.PriceSnapshot{MarketID: marketID}

	var err error
	if snap.YesPrice, err = domain.AmountFromString(vals["yes_price"]); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("yes_price: %w", err)
	}
	if snap.NoPrice, err = domain.AmountFromString(vals["no_price"]); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("no_price: %w", err)
	}
	if snap.BlockHeight, err = strconv.ParseUint(vals["block_height"], 10, 64); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("block_height: %w", err)
	}
	tsNS, err := strconv.ParseUint(vals["block_timestamp_ns"], 10, 64)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("block_timestamp_ns: %w", err)
	}
	snap.BlockTimestampNS = domain.NanoTime(tsNS)
	return snap, nil
}

// GetLatest retrieves the most recent price pair for a market. It returns
// domain.ErrNotFound when no snapshot has been cached.
func (pc *PriceCache) GetLatest(ctx context.Context, marketID domain.MarketID) (domain.PriceSnapshot, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: get latest price %d: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.PriceSnapshot{}, domain.ErrNotFound
	}

	snap, err := snapshotFromFields(marketID, vals)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("redis: parse latest price %d: %w", marketID, err)
	}
	return snap, nil
}

// GetLatestBatch retrieves snapshots for multiple markets using a pipeline.
// Markets without a cached snapshot are silently omitted from the result map.
func (pc *PriceCache) GetLatestBatch(ctx context.Context, marketIDs []domain.MarketID) (map[domain.MarketID]domain.PriceSnapshot, error) {
	if len(marketIDs) == 0 {
		return map[domain.MarketID]domain.PriceSnapshot{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[domain.MarketID]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get latest prices pipeline: %w", err)
	}

	result := make(map[domain.MarketID]domain.PriceSnapshot, len(marketIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		snap, err := snapshotFromFields(id, vals)
		if err != nil {
			continue
		}
		result[id] = snap
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
