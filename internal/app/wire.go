package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/nest-markets/nestd/internal/blob/s3"
	"github.com/nest-markets/nestd/internal/cache/redis"
	"github.com/nest-markets/nestd/internal/chain"
	"github.com/nest-markets/nestd/internal/collateral"
	"github.com/nest-markets/nestd/internal/config"
	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/ledger"
	"github.com/nest-markets/nestd/internal/market"
	"github.com/nest-markets/nestd/internal/oracle"
	"github.com/nest-markets/nestd/internal/store/postgres"
)

// Dependencies bundles everything the run modes operate on. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Runtime is the in-process devnet. Nil unless the mode runs the chain.
	Runtime *chain.Runtime

	// Stores. Nil unless the mode runs the indexer.
	EventStore      domain.EventStore
	PricePointStore domain.PricePointStore
	ProjectionStore domain.ProjectionStore

	// Redis-backed infrastructure, present in every mode.
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Checkpoints domain.CheckpointStore
	SignalBus   domain.SignalBus

	// Blob storage. Nil unless archiving is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis (every mode: the chain appends events to the stream, the
	// indexer reads them back out) ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Checkpoints = redis.NewCheckpointStore(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Devnet runtime (only for modes that run the chain) ---
	if cfg.NeedsChain() {
		rt, err := buildRuntime(cfg, deps.SignalBus, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		deps.Runtime = rt
	}

	// --- PostgreSQL (only for modes that run the indexer) ---
	if cfg.NeedsIndexer() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.EventStore = postgres.NewEventStore(pool)
		deps.PricePointStore = postgres.NewPricePointStore(pool)
		deps.ProjectionStore = postgres.NewProjectionStore(pool)
	}

	// --- S3 blob storage (only when the archiver is scheduled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		// Archival reads aged rows out of Postgres, so it needs the stores.
		if deps.EventStore != nil && deps.PricePointStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.EventStore, deps.PricePointStore)
		}
	}

	return deps, cleanup, nil
}

// buildRuntime assembles the devnet: the collateral token, the outcome
// ledger, the market engine and the oracle, registered on one receipt-ordered
// runtime. Committed events land on the signal bus stream the indexer
// consumes.
func buildRuntime(cfg *config.Config, bus domain.SignalBus, logger *slog.Logger) (*chain.Runtime, error) {
	genesis := make(map[domain.AccountID]domain.Amount, len(cfg.Chain.GenesisBalances))
	for account, raw := range cfg.Chain.GenesisBalances {
		amount, err := domain.AmountFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("genesis balance for %s: %w", account, err)
		}
		genesis[domain.AccountID(account)] = amount
	}

	var minLiquidity domain.Amount
	if cfg.Chain.MinInitialLiquidity != "" {
		amount, err := domain.AmountFromString(cfg.Chain.MinInitialLiquidity)
		if err != nil {
			return nil, fmt.Errorf("min_initial_liquidity: %w", err)
		}
		minLiquidity = amount
	}

	rt := chain.New(chain.Config{
		Logger: logger,
		Sink:   chain.NewBusSink(bus, domain.EventStream),
	})

	collateralID := domain.AccountID(cfg.Chain.CollateralAccount)
	ledgerID := domain.AccountID(cfg.Chain.LedgerAccount)
	marketID := domain.AccountID(cfg.Chain.MarketAccount)
	oracleID := domain.AccountID(cfg.Chain.OracleAccount)
	adminID := domain.AccountID(cfg.Chain.AdminAccount)

	components := []chain.Component{
		collateral.New(collateral.Config{
			Account:         collateralID,
			Owner:           adminID,
			Logger:          logger,
			InitialBalances: genesis,
		}),
		ledger.New(ledger.Config{
			Account: ledgerID,
			Market:  marketID,
			Logger:  logger,
		}),
		market.New(market.Config{
			Account:             marketID,
			Owner:               adminID,
			Collateral:          collateralID,
			Ledger:              ledgerID,
			Oracle:              oracleID,
			Logger:              logger,
			MinInitialLiquidity: minLiquidity,
			DefaultFeeBPS:       uint16(cfg.Chain.DefaultFeeBPS),
			AssertionLiveness:   cfg.Chain.AssertionLiveness.Duration,
		}),
		oracle.New(oracle.Config{
			Account:    oracleID,
			Admin:      adminID,
			Collateral: collateralID,
			Logger:     logger,
		}),
	}
	for _, c := range components {
		if err := rt.Register(c); err != nil {
			return nil, err
		}
	}
	return rt, nil
}
