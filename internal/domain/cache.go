package domain

import (
	"context"
	"time"
)

// PriceSnapshot is the cached latest price pair for a market.
type PriceSnapshot struct {
	MarketID         MarketID `json:"market_id"`
	YesPrice         Amount   `json:"yes_price"`
	NoPrice          Amount   `json:"no_price"`
	BlockHeight      uint64   `json:"block_height"`
	BlockTimestampNS NanoTime `json:"block_timestamp_ns"`
}

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetLatest(ctx context.Context, snap PriceSnapshot) error
	GetLatest(ctx context.Context, marketID MarketID) (PriceSnapshot, error)
	GetLatestBatch(ctx context.Context, marketIDs []MarketID) (map[MarketID]PriceSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed mutual exclusion. Acquire returns
// ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// CheckpointStore persists the indexer's stream cursor so a restart resumes
// where the previous run stopped.
type CheckpointStore interface {
	SaveCursor(ctx context.Context, name, cursor string) error
	LoadCursor(ctx context.Context, name string) (string, error)
}

// Bus topology. The chain runtime appends every committed event to
// EventStream; the indexer folds them and republishes trades on
// LiveTradeChannel for WebSocket fan-out.
const (
	EventStream      = "nest:events"
	LiveTradeChannel = "nest:trades:live"
)

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
