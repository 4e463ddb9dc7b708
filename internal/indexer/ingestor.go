// Package indexer consumes the chain's event stream and folds it into the
// Postgres read models, the Redis price cache and the live trade channel.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/market"
)

const (
	// cursorName keys the stream checkpoint.
	cursorName = "event_stream"

	readBatchSize = 100
	retryBackoff  = 2 * time.Second
)

// Ingestor tails the event stream and applies each record exactly once.
// Deduplication lives in the event log's unique index: a record whose
// (receipt, event, market) triple was already inserted skips every
// downstream write, so redelivery after a crash is harmless.
type Ingestor struct {
	bus         domain.SignalBus
	checkpoints domain.CheckpointStore
	events      domain.EventStore
	prices      domain.PricePointStore
	projections domain.ProjectionStore
	priceCache  domain.PriceCache
	logger      *slog.Logger
}

// NewIngestor creates the stream consumer. priceCache may be nil; the fold
// then skips the cache write.
func NewIngestor(
	bus domain.SignalBus,
	checkpoints domain.CheckpointStore,
	events domain.EventStore,
	prices domain.PricePointStore,
	projections domain.ProjectionStore,
	priceCache domain.PriceCache,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		bus:         bus,
		checkpoints: checkpoints,
		events:      events,
		prices:      prices,
		projections: projections,
		priceCache:  priceCache,
		logger:      logger.With(slog.String("component", "ingestor")),
	}
}

// Run tails the stream until the context is cancelled. Store failures back
// off and retry from the last saved cursor instead of stopping the loop.
func (ing *Ingestor) Run(ctx context.Context) error {
	cursor, err := ing.checkpoints.LoadCursor(ctx, cursorName)
	if err != nil {
		return fmt.Errorf("indexer: load cursor: %w", err)
	}
	if cursor == "" {
		cursor = "0"
	}
	ing.logger.Info("event ingestor starting", slog.String("cursor", cursor))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := ing.bus.StreamRead(ctx, domain.EventStream, cursor, readBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ing.logger.Error("stream read failed", slog.Any("error", err))
			sleepCtx(ctx, retryBackoff)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		next, applyErr := ing.applyBatch(ctx, cursor, msgs)
		if next != cursor {
			cursor = next
			if err := ing.checkpoints.SaveCursor(ctx, cursorName, cursor); err != nil {
				ing.logger.Error("save cursor failed",
					slog.String("cursor", cursor),
					slog.Any("error", err),
				)
			}
		}
		if applyErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ing.logger.Error("apply batch failed", slog.Any("error", applyErr))
			sleepCtx(ctx, retryBackoff)
		}
	}
}

// applyBatch folds messages in stream order and returns the id of the last
// one fully applied. A record that cannot be decoded is dropped with a log
// line; a store failure stops the batch so the remainder is redelivered.
func (ing *Ingestor) applyBatch(ctx context.Context, cursor string, msgs []domain.StreamMessage) (string, error) {
	for _, msg := range msgs {
		var rec domain.EventRecord
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			ing.logger.Error("dropping undecodable event",
				slog.String("stream_id", msg.ID),
				slog.Any("error", err),
			)
			cursor = msg.ID
			continue
		}
		if err := ing.apply(ctx, rec); err != nil {
			return cursor, fmt.Errorf("indexer: apply %s at %s: %w", rec.Event, msg.ID, err)
		}
		cursor = msg.ID
	}
	return cursor, nil
}

// apply writes one event through the fold. The raw record lands in the event
// log first; a replay (dedupe insert reports false) skips everything else.
func (ing *Ingestor) apply(ctx context.Context, rec domain.EventRecord) error {
	inserted, err := ing.events.Insert(ctx, domain.StoredEvent{
		MarketID:         rec.MarketID,
		EventType:        rec.Event,
		BlockHeight:      rec.BlockHeight,
		BlockTimestampNS: rec.BlockTimestampNS,
		TransactionID:    rec.TransactionID,
		ReceiptID:        rec.ReceiptID,
		Payload:          rec.Payload(),
	})
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if !inserted {
		ing.logger.Debug("skipping replayed event",
			slog.String("event", string(rec.Event)),
			slog.String("receipt_id", rec.ReceiptID),
		)
		return nil
	}

	switch rec.Event {
	case domain.EventTrade:
		return ing.applyTrade(ctx, rec)
	case domain.EventMarketCreated, domain.EventLiquidityAdded, domain.EventLiquidityRemoved:
		return ing.upsertStatus(ctx, rec, domain.StatusOpen, nil)
	case domain.EventResolutionSubmitted:
		return ing.applyResolutionSubmitted(ctx, rec)
	case domain.EventMarketDisputed:
		return ing.applyDisputed(ctx, rec)
	case domain.EventMarketSettled:
		return ing.applySettled(ctx, rec)
	case domain.EventRedeemed:
		return ing.upsertStatus(ctx, rec, domain.StatusSettled, nil)
	}

	ing.logger.Warn("unknown event type",
		slog.String("event", string(rec.Event)),
		slog.Uint64("market_id", uint64(rec.MarketID)),
	)
	return nil
}

// decodePayload unmarshals the event payload. A payload that fails to decode
// is dropped with a log line; the raw event row is already in the log.
func (ing *Ingestor) decodePayload(rec domain.EventRecord, into any) bool {
	if err := json.Unmarshal(rec.Payload(), into); err != nil {
		ing.logger.Error("dropping undecodable payload",
			slog.String("event", string(rec.Event)),
			slog.String("receipt_id", rec.ReceiptID),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

// applyTrade writes the price point, refreshes the projection and cache, and
// fans the trade out to live subscribers.
func (ing *Ingestor) applyTrade(ctx context.Context, rec domain.EventRecord) error {
	var data domain.TradeData
	if !ing.decodePayload(rec, &data) {
		return nil
	}

	if _, err := ing.prices.Insert(ctx, domain.PricePoint{
		MarketID:         rec.MarketID,
		YesPrice:         data.YesPrice,
		NoPrice:          data.NoPrice,
		CollateralAmount: data.CollateralAmount,
		TokenAmount:      data.TokenAmount,
		IsBuy:            data.IsBuy,
		Outcome:          data.Outcome,
		Trader:           data.Trader,
		BlockHeight:      rec.BlockHeight,
		BlockTimestampNS: rec.BlockTimestampNS,
		TransactionID:    rec.TransactionID,
		ReceiptID:        rec.ReceiptID,
	}); err != nil {
		return fmt.Errorf("insert price point: %w", err)
	}

	if err := ing.projections.UpsertMarket(ctx, domain.MarketProjection{
		MarketID:           rec.MarketID,
		Status:             domain.StatusOpen,
		YesPrice:           data.YesPrice,
		NoPrice:            data.NoPrice,
		UpdatedBlockHeight: rec.BlockHeight,
	}); err != nil {
		return fmt.Errorf("upsert market projection: %w", err)
	}

	// Cache and fan-out are best effort. The stores already hold the trade;
	// a Redis hiccup must not wedge the fold.
	if ing.priceCache != nil {
		err := ing.priceCache.SetLatest(ctx, domain.PriceSnapshot{
			MarketID:         rec.MarketID,
			YesPrice:         data.YesPrice,
			NoPrice:          data.NoPrice,
			BlockHeight:      rec.BlockHeight,
			BlockTimestampNS: rec.BlockTimestampNS,
		})
		if err != nil {
			ing.logger.Warn("price cache write failed",
				slog.Uint64("market_id", uint64(rec.MarketID)),
				slog.Any("error", err),
			)
		}
	}

	ing.publishLiveTrade(ctx, rec, data)
	return nil
}

func (ing *Ingestor) publishLiveTrade(ctx context.Context, rec domain.EventRecord, data domain.TradeData) {
	payload, err := json.Marshal(domain.LiveTradeMessage{
		Type: "trade",
		Data: domain.LiveTradeData{
			MarketID:         rec.MarketID,
			Trader:           data.Trader,
			Outcome:          data.Outcome,
			IsBuy:            data.IsBuy,
			CollateralAmount: data.CollateralAmount,
			TokenAmount:      data.TokenAmount,
			YesPrice:         data.YesPrice,
			NoPrice:          data.NoPrice,
			BlockHeight:      rec.BlockHeight,
			BlockTimestampMS: rec.BlockTimestampNS.Millis(),
			TransactionID:    rec.TransactionID,
			ReceiptID:        rec.ReceiptID,
		},
	})
	if err != nil {
		ing.logger.Error("marshal live trade failed", slog.Any("error", err))
		return
	}
	if err := ing.bus.Publish(ctx, domain.LiveTradeChannel, payload); err != nil {
		ing.logger.Warn("live trade publish failed",
			slog.Uint64("market_id", uint64(rec.MarketID)),
			slog.Any("error", err),
		)
	}
}

func (ing *Ingestor) upsertStatus(ctx context.Context, rec domain.EventRecord, status domain.MarketStatus, outcome *domain.Outcome) error {
	if err := ing.projections.UpsertMarket(ctx, domain.MarketProjection{
		MarketID:           rec.MarketID,
		Status:             status,
		Outcome:            outcome,
		UpdatedBlockHeight: rec.BlockHeight,
	}); err != nil {
		return fmt.Errorf("upsert market projection: %w", err)
	}
	return nil
}

func (ing *Ingestor) applyResolutionSubmitted(ctx context.Context, rec domain.EventRecord) error {
	var data domain.ResolutionSubmittedData
	if !ing.decodePayload(rec, &data) {
		return nil
	}

	outcome := data.Outcome
	if err := ing.upsertStatus(ctx, rec, domain.StatusResolving, &outcome); err != nil {
		return err
	}

	// The event does not carry the liveness window, so the deadline mirrors
	// the market component's default.
	deadline := rec.BlockTimestampNS + domain.NanoTime(market.DefaultAssertionLiveness.Nanoseconds())
	if err := ing.projections.UpsertLifecycle(ctx, domain.LifecycleProjection{
		MarketID:             rec.MarketID,
		AssertionID:          data.AssertionID,
		Resolver:             data.Resolver,
		SubmittedBlockHeight: rec.BlockHeight,
		SubmittedTimestampNS: rec.BlockTimestampNS,
		LivenessDeadlineNS:   deadline,
	}); err != nil {
		return fmt.Errorf("upsert lifecycle projection: %w", err)
	}
	return nil
}

func (ing *Ingestor) applyDisputed(ctx context.Context, rec domain.EventRecord) error {
	var data domain.MarketDisputedData
	if !ing.decodePayload(rec, &data) {
		return nil
	}

	if err := ing.upsertStatus(ctx, rec, domain.StatusDisputed, nil); err != nil {
		return err
	}
	if err := ing.projections.UpsertLifecycle(ctx, domain.LifecycleProjection{
		MarketID:            rec.MarketID,
		AssertionID:         data.AssertionID,
		Disputer:            data.Disputer,
		DisputedBlockHeight: rec.BlockHeight,
		DisputedTimestampNS: rec.BlockTimestampNS,
	}); err != nil {
		return fmt.Errorf("upsert lifecycle projection: %w", err)
	}
	return nil
}

func (ing *Ingestor) applySettled(ctx context.Context, rec domain.EventRecord) error {
	var data domain.MarketSettledData
	if !ing.decodePayload(rec, &data) {
		return nil
	}

	outcome := data.Outcome
	if err := ing.upsertStatus(ctx, rec, domain.StatusSettled, &outcome); err != nil {
		return err
	}
	if err := ing.projections.UpsertLifecycle(ctx, domain.LifecycleProjection{
		MarketID:           rec.MarketID,
		SettledBlockHeight: rec.BlockHeight,
		SettledTimestampNS: rec.BlockTimestampNS,
	}); err != nil {
		return fmt.Errorf("upsert lifecycle projection: %w", err)
	}
	return nil
}

// sleepCtx waits out the backoff unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
