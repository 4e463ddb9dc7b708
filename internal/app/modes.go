package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/indexer"
	"github.com/nest-markets/nestd/internal/server"
	"github.com/nest-markets/nestd/internal/server/handler"
	"github.com/nest-markets/nestd/internal/server/ws"
	"github.com/nest-markets/nestd/internal/service"
)

// NodeMode runs the devnet chain behind the HTTP API. Committed events still
// go out on the stream, so a separate indexer process can follow along.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")

	g, ctx := errgroup.WithContext(ctx)

	chainSvc := service.NewChainService(deps.Runtime, a.topology(), a.logger)

	// The API is the only way to reach the chain, so node mode always
	// serves it regardless of server.enabled.
	a.startHTTPServer(ctx, g, deps, chainSvc, nil)

	return g.Wait()
}

// IndexerMode tails the event stream into the read models and serves them.
// No chain runs in this process; write routes answer 503.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting indexer mode")

	g, ctx := errgroup.WithContext(ctx)

	querySvc := a.startIndexer(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil, querySvc)
	} else {
		a.logger.InfoContext(ctx, "server.enabled is false, running the fold without the read API")
	}

	return g.Wait()
}

// FullMode runs the chain and its indexer in one process. Events take the
// same path as in split deployments: out through the stream and back in
// through the fold.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	chainSvc := service.NewChainService(deps.Runtime, a.topology(), a.logger)
	querySvc := a.startIndexer(ctx, g, deps)

	a.startHTTPServer(ctx, g, deps, chainSvc, querySvc)

	return g.Wait()
}

// topology maps the configured component accounts into the gateway's view.
func (a *App) topology() service.Topology {
	return service.Topology{
		Collateral: domain.AccountID(a.cfg.Chain.CollateralAccount),
		Market:     domain.AccountID(a.cfg.Chain.MarketAccount),
		Oracle:     domain.AccountID(a.cfg.Chain.OracleAccount),
		Admin:      domain.AccountID(a.cfg.Chain.AdminAccount),
	}
}

// startIndexer adds the stream fold and, when scheduled, the archive cron to
// the errgroup, and returns the query service over the stores the fold fills.
func (a *App) startIndexer(ctx context.Context, g *errgroup.Group, deps *Dependencies) *service.QueryService {
	ing := indexer.NewIngestor(
		deps.SignalBus,
		deps.Checkpoints,
		deps.EventStore,
		deps.PricePointStore,
		deps.ProjectionStore,
		deps.PriceCache,
		a.logger,
	)
	g.Go(func() error {
		return ing.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		arch := indexer.NewArchiver(
			deps.Archiver,
			deps.EventStore,
			deps.PricePointStore,
			deps.LockManager,
			a.cfg.Archive.RetentionDays,
			a.cfg.Archive.Prune,
			a.logger,
		)
		g.Go(func() error {
			return arch.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	return service.NewQueryService(
		deps.EventStore,
		deps.PricePointStore,
		deps.ProjectionStore,
		deps.PriceCache,
		a.logger,
	)
}

// startHTTPServer adds the HTTP server and the WebSocket hub to the errgroup.
// chainSvc and querySvc may each be nil; handlers answer 503 for the surfaces
// the run mode did not wire.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	chainSvc *service.ChainService,
	querySvc *service.QueryService,
) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.App.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// A nil *ChainService must stay a nil interface, hence the guards.
	var (
		views   handler.ChainViews
		actions handler.ActionService
		admin   handler.AdminService
	)
	if chainSvc != nil {
		views = chainSvc
		actions = chainSvc
		admin = chainSvc
	}
	var (
		summaries handler.MarketSummaries
		queries   handler.HistoryService
		health    handler.IndexerHealthService
	)
	if querySvc != nil {
		summaries = querySvc
		queries = querySvc
		health = querySvc
	}
	var archives handler.ArchiveBrowser
	if deps.BlobReader != nil {
		archives = deps.BlobReader
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.App.Mode, health, a.logger),
		Markets:  handler.NewMarketHandler(views, summaries, a.logger),
		History:  handler.NewHistoryHandler(queries, a.logger),
		Actions:  handler.NewActionHandler(actions, a.logger),
		Admin:    handler.NewAdminHandler(admin, a.logger),
		Archives: handler.NewArchiveHandler(archives, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
