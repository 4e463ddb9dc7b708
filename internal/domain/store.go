package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// StoredEvent is one persisted chain event row.
type StoredEvent struct {
	ID               int64           `json:"id"`
	MarketID         MarketID        `json:"market_id"`
	EventType        EventType       `json:"event_type"`
	BlockHeight      uint64          `json:"block_height"`
	BlockTimestampNS NanoTime        `json:"block_timestamp_ns"`
	TransactionID    string          `json:"transaction_id"`
	ReceiptID        string          `json:"receipt_id"`
	Payload          json.RawMessage `json:"payload"`
	CreatedAt        time.Time       `json:"created_at"`
}

// EventStore persists the append-only event log. Insert reports whether the
// row was new; replays of the same (receipt, event, market) are dropped.
type EventStore interface {
	Insert(ctx context.Context, ev StoredEvent) (bool, error)
	ListByMarket(ctx context.Context, marketID MarketID, opts ListOpts) ([]StoredEvent, error)
	ListByTypes(ctx context.Context, marketID MarketID, types []EventType, limit int) ([]StoredEvent, error)
	ListBefore(ctx context.Context, before NanoTime, limit int) ([]StoredEvent, error)
	DeleteBefore(ctx context.Context, before NanoTime) (int64, error)
	Count(ctx context.Context) (int64, error)
	LastBlockHeight(ctx context.Context) (uint64, error)
}

// PricePoint is one trade sample, kept for charting and trade history.
type PricePoint struct {
	ID               int64     `json:"id"`
	MarketID         MarketID  `json:"market_id"`
	YesPrice         Amount    `json:"yes_price"`
	NoPrice          Amount    `json:"no_price"`
	CollateralAmount Amount    `json:"collateral_amount"`
	TokenAmount      Amount    `json:"token_amount"`
	IsBuy            bool      `json:"is_buy"`
	Outcome          Outcome   `json:"outcome"`
	Trader           AccountID `json:"trader"`
	BlockHeight      uint64    `json:"block_height"`
	BlockTimestampNS NanoTime  `json:"block_timestamp_ns"`
	TransactionID    string    `json:"transaction_id"`
	ReceiptID        string    `json:"receipt_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// PricePointStore persists trade samples. History returns the most recent
// points in chronological order; ListByMarket returns newest first.
type PricePointStore interface {
	Insert(ctx context.Context, p PricePoint) (bool, error)
	History(ctx context.Context, marketID MarketID, limit int) ([]PricePoint, error)
	ListByMarket(ctx context.Context, marketID MarketID, opts ListOpts) ([]PricePoint, error)
	ListBefore(ctx context.Context, before NanoTime, limit int) ([]PricePoint, error)
	DeleteBefore(ctx context.Context, before NanoTime) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// MarketProjection is the latest known status and pricing of one market,
// folded from the event log.
type MarketProjection struct {
	MarketID           MarketID     `json:"market_id"`
	Status             MarketStatus `json:"status"`
	Outcome            *Outcome     `json:"outcome,omitempty"`
	YesPrice           Amount       `json:"yes_price"`
	NoPrice            Amount       `json:"no_price"`
	UpdatedBlockHeight uint64       `json:"updated_block_height"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// LifecycleProjection tracks a market's resolution trail.
type LifecycleProjection struct {
	MarketID             MarketID  `json:"market_id"`
	AssertionID          string    `json:"assertion_id,omitempty"`
	Resolver             AccountID `json:"resolver,omitempty"`
	Disputer             AccountID `json:"disputer,omitempty"`
	SubmittedBlockHeight uint64    `json:"submitted_block_height,omitempty"`
	SubmittedTimestampNS NanoTime  `json:"submitted_timestamp_ns,omitempty"`
	DisputedBlockHeight  uint64    `json:"disputed_block_height,omitempty"`
	DisputedTimestampNS  NanoTime  `json:"disputed_timestamp_ns,omitempty"`
	SettledBlockHeight   uint64    `json:"settled_block_height,omitempty"`
	SettledTimestampNS   NanoTime  `json:"settled_timestamp_ns,omitempty"`
	LivenessDeadlineNS   NanoTime  `json:"liveness_deadline_ns,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ProjectionStore persists read-model rows derived from events. Upserts are
// height-guarded: a stale height never overwrites a newer row.
type ProjectionStore interface {
	UpsertMarket(ctx context.Context, p MarketProjection) error
	GetMarket(ctx context.Context, marketID MarketID) (MarketProjection, error)
	ListMarkets(ctx context.Context, opts ListOpts) ([]MarketProjection, error)
	UpsertLifecycle(ctx context.Context, p LifecycleProjection) error
	GetLifecycle(ctx context.Context, marketID MarketID) (LifecycleProjection, error)
}
