package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nest-markets/nestd/internal/domain"
)

// ProjectionStore implements domain.ProjectionStore using PostgreSQL.
type ProjectionStore struct {
	pool *pgxpool.Pool
}

// NewProjectionStore creates a new ProjectionStore backed by the given
// connection pool.
func NewProjectionStore(pool *pgxpool.Pool) *ProjectionStore {
	return &ProjectionStore{pool: pool}
}

// UpsertMarket folds one event into the market read model. Outcome and
// prices only overwrite when set; a row updated at a higher block is never
// overwritten by a stale one.
func (s *ProjectionStore) UpsertMarket(ctx context.Context, p domain.MarketProjection) error {
	var outcome *string
	if p.Outcome != nil {
		o := p.Outcome.String()
		outcome = &o
	}
	var yesPrice, noPrice *string
	if !p.YesPrice.IsZero() || !p.NoPrice.IsZero() {
		y, n := p.YesPrice.String(), p.NoPrice.String()
		yesPrice, noPrice = &y, &n
	}

	const query = `
		INSERT INTO markets_projection (
			market_id, status, outcome, yes_price, no_price,
			updated_block_height, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			status               = EXCLUDED.status,
			outcome              = COALESCE(EXCLUDED.outcome, markets_projection.outcome),
			yes_price            = COALESCE(EXCLUDED.yes_price, markets_projection.yes_price),
			no_price             = COALESCE(EXCLUDED.no_price, markets_projection.no_price),
			updated_block_height = EXCLUDED.updated_block_height,
			updated_at           = NOW()
		WHERE markets_projection.updated_block_height <= EXCLUDED.updated_block_height`

	_, err := s.pool.Exec(ctx, query,
		int64(p.MarketID), string(p.Status), outcome, yesPrice, noPrice,
		int64(p.UpdatedBlockHeight),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market projection %d: %w", p.MarketID, err)
	}
	return nil
}

func scanMarketProjection(row pgx.Row) (domain.MarketProjection, error) {
	var (
		p                domain.MarketProjection
		marketID, height int64
		status           string
		outcome, yes, no *string
	)
	err := row.Scan(&marketID, &status, &outcome, &yes, &no, &height, &p.UpdatedAt)
	if err != nil {
		return domain.MarketProjection{}, err
	}
	p.MarketID = domain.MarketID(marketID)
	p.Status = domain.MarketStatus(status)
	p.UpdatedBlockHeight = uint64(height)

	if outcome != nil {
		o, err := domain.ParseOutcome(*outcome)
		if err != nil {
			return domain.MarketProjection{}, err
		}
		p.Outcome = &o
	}
	if yes != nil {
		if p.YesPrice, err = domain.AmountFromString(*yes); err != nil {
			return domain.MarketProjection{}, fmt.Errorf("yes_price: %w", err)
		}
	}
	if no != nil {
		if p.NoPrice, err = domain.AmountFromString(*no); err != nil {
			return domain.MarketProjection{}, fmt.Errorf("no_price: %w", err)
		}
	}
	return p, nil
}

const marketProjectionCols = `market_id, status, outcome, yes_price, no_price,
	updated_block_height, updated_at`

// GetMarket retrieves the read-model row for one market.
func (s *ProjectionStore) GetMarket(ctx context.Context, marketID domain.MarketID) (domain.MarketProjection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketProjectionCols+` FROM markets_projection WHERE market_id = $1`,
		int64(marketID))
	p, err := scanMarketProjection(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketProjection{}, domain.ErrNotFound
		}
		return domain.MarketProjection{}, fmt.Errorf("postgres: get market projection %d: %w", marketID, err)
	}
	return p, nil
}

// ListMarkets returns read-model rows ordered by market id.
func (s *ProjectionStore) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketProjection, error) {
	query := `SELECT ` + marketProjectionCols + ` FROM markets_projection ORDER BY market_id ASC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list market projections: %w", err)
	}
	defer rows.Close()

	var projections []domain.MarketProjection
	for rows.Next() {
		p, err := scanMarketProjection(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market projection: %w", err)
		}
		projections = append(projections, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list market projections rows: %w", err)
	}
	return projections, nil
}

// UpsertLifecycle folds one resolution event into the lifecycle read model.
// Zero-valued fields never erase previously recorded ones; a fresh
// submission overwrites the assertion trail with its new values.
func (s *ProjectionStore) UpsertLifecycle(ctx context.Context, p domain.LifecycleProjection) error {
	const query = `
		INSERT INTO market_lifecycle_projection (
			market_id, assertion_id, resolver, disputer,
			submitted_block_height, submitted_timestamp_ns,
			disputed_block_height, disputed_timestamp_ns,
			settled_block_height, settled_timestamp_ns,
			liveness_deadline_ns, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			assertion_id           = COALESCE(NULLIF(EXCLUDED.assertion_id, ''), market_lifecycle_projection.assertion_id),
			resolver               = COALESCE(NULLIF(EXCLUDED.resolver, ''), market_lifecycle_projection.resolver),
			disputer               = COALESCE(NULLIF(EXCLUDED.disputer, ''), market_lifecycle_projection.disputer),
			submitted_block_height = COALESCE(NULLIF(EXCLUDED.submitted_block_height, 0), market_lifecycle_projection.submitted_block_height),
			submitted_timestamp_ns = COALESCE(NULLIF(EXCLUDED.submitted_timestamp_ns, 0), market_lifecycle_projection.submitted_timestamp_ns),
			disputed_block_height  = COALESCE(NULLIF(EXCLUDED.disputed_block_height, 0), market_lifecycle_projection.disputed_block_height),
			disputed_timestamp_ns  = COALESCE(NULLIF(EXCLUDED.disputed_timestamp_ns, 0), market_lifecycle_projection.disputed_timestamp_ns),
			settled_block_height   = COALESCE(NULLIF(EXCLUDED.settled_block_height, 0), market_lifecycle_projection.settled_block_height),
			settled_timestamp_ns   = COALESCE(NULLIF(EXCLUDED.settled_timestamp_ns, 0), market_lifecycle_projection.settled_timestamp_ns),
			liveness_deadline_ns   = COALESCE(NULLIF(EXCLUDED.liveness_deadline_ns, 0), market_lifecycle_projection.liveness_deadline_ns),
			updated_at             = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(p.MarketID), p.AssertionID, string(p.Resolver), string(p.Disputer),
		int64(p.SubmittedBlockHeight), int64(p.SubmittedTimestampNS),
		int64(p.DisputedBlockHeight), int64(p.DisputedTimestampNS),
		int64(p.SettledBlockHeight), int64(p.SettledTimestampNS),
		int64(p.LivenessDeadlineNS),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert lifecycle projection %d: %w", p.MarketID, err)
	}
	return nil
}

// GetLifecycle retrieves the resolution trail for one market.
func (s *ProjectionStore) GetLifecycle(ctx context.Context, marketID domain.MarketID) (domain.LifecycleProjection, error) {
	const query = `
		SELECT market_id, assertion_id, resolver, disputer,
			submitted_block_height, submitted_timestamp_ns,
			disputed_block_height, disputed_timestamp_ns,
			settled_block_height, settled_timestamp_ns,
			liveness_deadline_ns, updated_at
		FROM market_lifecycle_projection WHERE market_id = $1`

	var (
		p                                        domain.LifecycleProjection
		id, subHeight, subTS, dispHeight, dispTS int64
		setHeight, setTS, livenessNS             int64
		resolver, disputer                       string
	)
	err := s.pool.QueryRow(ctx, query, int64(marketID)).Scan(
		&id, &p.AssertionID, &resolver, &disputer,
		&subHeight, &subTS, &dispHeight, &dispTS,
		&setHeight, &setTS, &livenessNS, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.LifecycleProjection{}, domain.ErrNotFound
		}
		return domain.LifecycleProjection{}, fmt.Errorf("postgres: get lifecycle projection %d: %w", marketID, err)
	}

	p.MarketID = domain.MarketID(id)
	p.Resolver = domain.AccountID(resolver)
	p.Disputer = domain.AccountID(disputer)
	p.SubmittedBlockHeight = uint64(subHeight)
	p.SubmittedTimestampNS = domain.NanoTime(subTS)
	p.DisputedBlockHeight = uint64(dispHeight)
	p.DisputedTimestampNS = domain.NanoTime(dispTS)
	p.SettledBlockHeight = uint64(setHeight)
	p.SettledTimestampNS = domain.NanoTime(setTS)
	p.LivenessDeadlineNS = domain.NanoTime(livenessNS)
	return p, nil
}
