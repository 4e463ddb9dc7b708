package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nest-markets/nestd/internal/domain"
	"github.com/nest-markets/nestd/internal/service"
)

// HistoryService defines the read-model surface the history handler needs.
// Nil when the process runs without the indexer's stores.
type HistoryService interface {
	PriceHistory(ctx context.Context, marketID domain.MarketID, limit int) ([]domain.PricePoint, error)
	Trades(ctx context.Context, marketID domain.MarketID, opts domain.ListOpts) ([]domain.PricePoint, error)
	Activity(ctx context.Context, marketID domain.MarketID, limit int) ([]domain.StoredEvent, error)
	Resolution(ctx context.Context, marketID domain.MarketID) (service.ResolutionStatus, error)
}

// HistoryHandler serves price history, trade logs and resolution trails from
// the indexer's read models.
type HistoryHandler struct {
	queries HistoryService
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. queries may be nil.
func NewHistoryHandler(queries HistoryService, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		queries: queries,
		logger:  logHandler(logger, "history"),
	}
}

const (
	defaultHistoryLimit = 200
	maxHistoryLimit     = 2000
	defaultTradesLimit  = 50
	maxTradesLimit      = 500
)

// historyResponse wraps chart samples, oldest first.
type historyResponse struct {
	MarketID domain.MarketID     `json:"market_id"`
	Points   []domain.PricePoint `json:"points"`
	Limit    int                 `json:"limit"`
}

// PriceHistory returns chart samples for a market.
// GET /api/v1/markets/{id}/price-history?limit=200
func (h *HistoryHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil {
		writeUnavailable(w, "price history")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)

	points, err := h.queries.PriceHistory(r.Context(), id, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: price history failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load price history")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		MarketID: id,
		Points:   points,
		Limit:    limit,
	})
}

// tradesResponse wraps trade rows, newest first.
type tradesResponse struct {
	MarketID domain.MarketID     `json:"market_id"`
	Trades   []domain.PricePoint `json:"trades"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}

// Trades returns a market's recent trades.
// GET /api/v1/markets/{id}/trades?limit=50&offset=0
func (h *HistoryHandler) Trades(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil {
		writeUnavailable(w, "trade history")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := domain.ListOpts{
		Limit:  parseLimit(r, defaultTradesLimit, maxTradesLimit),
		Offset: parseOffset(r),
	}

	trades, err := h.queries.Trades(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: trades failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}

	writeJSON(w, http.StatusOK, tradesResponse{
		MarketID: id,
		Trades:   trades,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// activityResponse wraps resolution-trail events, newest first.
type activityResponse struct {
	MarketID domain.MarketID      `json:"market_id"`
	Events   []domain.StoredEvent `json:"events"`
	Limit    int                  `json:"limit"`
}

// Activity returns a market's resolution-trail events.
// GET /api/v1/markets/{id}/activity?limit=50
func (h *HistoryHandler) Activity(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil {
		writeUnavailable(w, "activity log")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := parseLimit(r, defaultTradesLimit, maxTradesLimit)

	events, err := h.queries.Activity(r.Context(), id, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: activity failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}

	writeJSON(w, http.StatusOK, activityResponse{
		MarketID: id,
		Events:   events,
		Limit:    limit,
	})
}

// Resolution reports where a market stands on its way to settlement.
// GET /api/v1/markets/{id}/resolution
func (h *HistoryHandler) Resolution(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil {
		writeUnavailable(w, "resolution status")
		return
	}
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.queries.Resolution(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: resolution failed",
			slog.Uint64("market_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load resolution status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
