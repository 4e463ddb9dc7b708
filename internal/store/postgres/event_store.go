package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nest-markets/nestd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `id, market_id, event_type, block_height, block_timestamp_ns,
	transaction_id, receipt_id, payload, created_at`

func scanEventRows(rows pgx.Rows) ([]domain.StoredEvent, error) {
	var events []domain.StoredEvent
	for rows.Next() {
		var (
			ev        domain.StoredEvent
			marketID  int64
			eventType string
			height    int64
			tsNS      int64
		)
		if err := rows.Scan(
			&ev.ID, &marketID, &eventType, &height, &tsNS,
			&ev.TransactionID, &ev.ReceiptID, &ev.Payload, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.MarketID = domain.MarketID(marketID)
		ev.EventType = domain.EventType(eventType)
		ev.BlockHeight = uint64(height)
		ev.BlockTimestampNS = domain.NanoTime(tsNS)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Insert appends one event row. It reports false when the row replays an
// already stored (receipt, event, market) triple.
func (s *EventStore) Insert(ctx context.Context, ev domain.StoredEvent) (bool, error) {
	const query = `
		INSERT INTO market_events (
			market_id, event_type, block_height, block_timestamp_ns,
			transaction_id, receipt_id, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (receipt_id, event_type, market_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		int64(ev.MarketID), string(ev.EventType),
		int64(ev.BlockHeight), int64(ev.BlockTimestampNS),
		ev.TransactionID, ev.ReceiptID, ev.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByMarket returns a market's events, newest first.
func (s *EventStore) ListByMarket(ctx context.Context, marketID domain.MarketID, opts domain.ListOpts) ([]domain.StoredEvent, error) {
	query := `SELECT ` + eventCols + ` FROM market_events WHERE market_id = $1 ORDER BY block_height DESC, id DESC`
	args := []any{int64(marketID)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events by market: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events by market: %w", err)
	}
	return events, nil
}

// ListByTypes returns a market's events restricted to the given types,
// newest first.
func (s *EventStore) ListByTypes(ctx context.Context, marketID domain.MarketID, types []domain.EventType, limit int) ([]domain.StoredEvent, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	query := `SELECT ` + eventCols + ` FROM market_events WHERE market_id = $1 AND event_type = ANY($2) ORDER BY block_height DESC, id DESC`
	args := []any{int64(marketID), typeNames}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events by types: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events by types: %w", err)
	}
	return events, nil
}

// ListBefore returns events older than the cutoff, oldest first, for
// archiving.
func (s *EventStore) ListBefore(ctx context.Context, before domain.NanoTime, limit int) ([]domain.StoredEvent, error) {
	query := `SELECT ` + eventCols + ` FROM market_events WHERE block_timestamp_ns < $1 ORDER BY block_timestamp_ns ASC, id ASC`
	args := []any{int64(before)}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events before: %w", err)
	}
	return events, nil
}

// DeleteBefore removes events older than the cutoff. Returns the number
// deleted.
func (s *EventStore) DeleteBefore(ctx context.Context, before domain.NanoTime) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM market_events WHERE block_timestamp_ns < $1`, int64(before))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of stored events.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM market_events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return count, nil
}

// LastBlockHeight returns the highest indexed block, or zero when the log is
// empty.
func (s *EventStore) LastBlockHeight(ctx context.Context) (uint64, error) {
	var height int64
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(block_height), 0) FROM market_events").Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("postgres: last block height: %w", err)
	}
	return uint64(height), nil
}
