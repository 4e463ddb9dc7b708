package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nest-markets/nestd/internal/domain"
)

// defaultHistoryLimit bounds History queries that pass no explicit limit.
const defaultHistoryLimit = 200

// PricePointStore implements domain.PricePointStore using PostgreSQL.
type PricePointStore struct {
	pool *pgxpool.Pool
}

// NewPricePointStore creates a new PricePointStore backed by the given
// connection pool.
func NewPricePointStore(pool *pgxpool.Pool) *PricePointStore {
	return &PricePointStore{pool: pool}
}

const pricePointCols = `id, market_id, yes_price, no_price, collateral_amount,
	token_amount, is_buy, outcome, trader, block_height, block_timestamp_ns,
	transaction_id, receipt_id, created_at`

func scanPricePointRows(rows pgx.Rows) ([]domain.PricePoint, error) {
	var points []domain.PricePoint
	for rows.Next() {
		var (
			p                      domain.PricePoint
			marketID, height, tsNS int64
			yes, no                string
			collateral, tokens     string
			outcome, trader        string
		)
		if err := rows.Scan(
			&p.ID, &marketID, &yes, &no, &collateral, &tokens,
			&p.IsBuy, &outcome, &trader, &height, &tsNS,
			&p.TransactionID, &p.ReceiptID, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		p.MarketID = domain.MarketID(marketID)
		p.BlockHeight = uint64(height)
		p.BlockTimestampNS = domain.NanoTime(tsNS)
		p.Trader = domain.AccountID(trader)

		var err error
		if p.YesPrice, err = domain.AmountFromString(yes); err != nil {
			return nil, fmt.Errorf("yes_price: %w", err)
		}
		if p.NoPrice, err = domain.AmountFromString(no); err != nil {
			return nil, fmt.Errorf("no_price: %w", err)
		}
		if p.CollateralAmount, err = domain.AmountFromString(collateral); err != nil {
			return nil, fmt.Errorf("collateral_amount: %w", err)
		}
		if p.TokenAmount, err = domain.AmountFromString(tokens); err != nil {
			return nil, fmt.Errorf("token_amount: %w", err)
		}
		if p.Outcome, err = domain.ParseOutcome(outcome); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Insert appends one trade sample. It reports false when the row replays an
// already stored (receipt, market) pair.
func (s *PricePointStore) Insert(ctx context.Context, p domain.PricePoint) (bool, error) {
	const query = `
		INSERT INTO market_price_points (
			market_id, yes_price, no_price, collateral_amount, token_amount,
			is_buy, outcome, trader, block_height, block_timestamp_ns,
			transaction_id, receipt_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (receipt_id, market_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		int64(p.MarketID), p.YesPrice.String(), p.NoPrice.String(),
		p.CollateralAmount.String(), p.TokenAmount.String(),
		p.IsBuy, p.Outcome.String(), string(p.Trader),
		int64(p.BlockHeight), int64(p.BlockTimestampNS),
		p.TransactionID, p.ReceiptID,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert price point: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// History returns the most recent samples for a market in chronological
// order, suitable for charting. A non-positive limit falls back to the
// default window.
func (s *PricePointStore) History(ctx context.Context, marketID domain.MarketID, limit int) ([]domain.PricePoint, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT ` + pricePointCols + ` FROM (
			SELECT ` + pricePointCols + `
			FROM market_price_points
			WHERE market_id = $1
			ORDER BY block_height DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY block_height ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, int64(marketID), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: price history: %w", err)
	}
	defer rows.Close()

	points, err := scanPricePointRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price history: %w", err)
	}
	return points, nil
}

// ListByMarket returns a market's trade samples, newest first.
func (s *PricePointStore) ListByMarket(ctx context.Context, marketID domain.MarketID, opts domain.ListOpts) ([]domain.PricePoint, error) {
	query := `SELECT ` + pricePointCols + ` FROM market_price_points WHERE market_id = $1 ORDER BY block_height DESC, id DESC`
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
		return nil, fmt.Errorf("postgres: list price points by market: %w", err)
	}
	defer rows.Close()

	points, err := scanPricePointRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price points by market: %w", err)
	}
	return points, nil
}

// ListBefore returns samples older than the cutoff, oldest first, for
// archiving.
func (s *PricePointStore) ListBefore(ctx context.Context, before domain.NanoTime, limit int) ([]domain.PricePoint, error) {
	query := `SELECT ` + pricePointCols + ` FROM market_price_points WHERE block_timestamp_ns < $1 ORDER BY block_timestamp_ns ASC, id ASC`
	args := []any{int64(before)}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price points before: %w", err)
	}
	defer rows.Close()

	points, err := scanPricePointRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan price points before: %w", err)
	}
	return points, nil
}

// DeleteBefore removes samples older than the cutoff. Returns the number
// deleted.
func (s *PricePointStore) DeleteBefore(ctx context.Context, before domain.NanoTime) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM market_price_points WHERE block_timestamp_ns < $1`, int64(before))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete price points before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of stored samples.
func (s *PricePointStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM market_price_points").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count price points: %w", err)
	}
	return count, nil
}
