// Package server exposes the HTTP and WebSocket API over whatever backends
// the run mode wired: chain views and actions, indexer read models, or both.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/server/handler"
	"github.com/nest-markets/nestd/internal/server/middleware"
	"github.com/nest-markets/nestd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards write routes. Plaintext or crypto.HashAPIKey form; empty
	// disables authentication.
	APIKey string
	// RateLimit is requests per RateWindow per client IP; zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	History  *handler.HistoryHandler
	Actions  *handler.ActionHandler
	Admin    *handler.AdminHandler
	Archives *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
// Read routes are public; write routes sit behind the API key. limiter may
// be nil, which disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	authn := middleware.Auth(cfg.APIKey)

	// Write routes require the API key.
	post := func(pattern string, h http.HandlerFunc) {
		mux.Handle("POST "+pattern, authn(h))
	}

	// Read routes (public).
	mux.HandleFunc("GET /api/v1/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/v1/config", handlers.Markets.GetConfig)
	mux.HandleFunc("GET /api/v1/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/v1/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/v1/markets/{id}/prices", handlers.Markets.GetPrices)
	mux.HandleFunc("GET /api/v1/markets/{id}/estimate-buy", handlers.Markets.EstimateBuy)
	mux.HandleFunc("GET /api/v1/markets/{id}/lp-shares/{account}", handlers.Markets.GetLPShares)
	mux.HandleFunc("GET /api/v1/markets/{id}/price-history", handlers.History.PriceHistory)
	mux.HandleFunc("GET /api/v1/markets/{id}/trades", handlers.History.Trades)
	mux.HandleFunc("GET /api/v1/markets/{id}/activity", handlers.History.Activity)
	mux.HandleFunc("GET /api/v1/markets/{id}/resolution", handlers.History.Resolution)

	// Trade and lifecycle actions.
	post("/api/v1/actions/create-market", handlers.Actions.CreateMarket)
	post("/api/v1/actions/buy", handlers.Actions.Buy)
	post("/api/v1/actions/sell", handlers.Actions.Sell)
	post("/api/v1/actions/add-liquidity", handlers.Actions.AddLiquidity)
	post("/api/v1/actions/remove-liquidity", handlers.Actions.RemoveLiquidity)
	post("/api/v1/actions/submit-resolution", handlers.Actions.SubmitResolution)
	post("/api/v1/actions/redeem", handlers.Actions.Redeem)

	// Devnet operator endpoints.
	post("/api/v1/admin/faucet", handlers.Admin.Faucet)
	post("/api/v1/admin/oracle/settle", handlers.Admin.SettleAssertion)
	post("/api/v1/admin/oracle/dispute", handlers.Admin.DisputeAssertion)
	mux.HandleFunc("GET /api/v1/admin/archives", handlers.Archives.ListArchives)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
